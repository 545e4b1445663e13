package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/netcore/internal/chat"
	"github.com/nugget/netcore/internal/outcomes"
)

// chatTransportKey is the notional "chat transport" outcome-memory key
// used to pace reconnect attempts (spec §4.7: "the registry's computed
// delay for the notional 'chat transport'").
const chatTransportKey outcomes.TransportKey = "chat"

// chatBackoffParams are the fixed parameters spec §4.7 specifies for
// chat-reconnect pacing: 60s age cutoff, 1.5 cooldown factor, 10 count
// factor, max count 5, max delay 30s.
func chatBackoffParams() outcomes.Params {
	return outcomes.Params{
		AgeCutoff:            60 * time.Second,
		CooldownGrowthFactor: 1.5,
		CountGrowthFactor:    10,
		MaxCount:             5,
		MaxDelay:             30 * time.Second,
	}
}

// ConnectChat is the capability the service uses to obtain a connected
// chat.Connection (spec §6, §4.7). onDisconnect is closed exactly once
// when the returned connection goes away for any reason.
type ConnectChat interface {
	ConnectChat(ctx context.Context, onDisconnect chan<- struct{}) (chat.Connection, error)
}

const (
	// RequestTimeout is the per-request timeout (spec §4.7, distinct from
	// connection establishment).
	RequestTimeout = 30 * time.Second
	// InactivityTimeout is how long the handler waits idle before
	// disconnecting (spec §4.7).
	InactivityTimeout = 90 * time.Second
)

// Service is the registration session client (spec §4.7): it maintains an
// on-demand chat connection, pipelines a single outstanding request at a
// time (MAX_PENDING_REQUESTS=1: the handler goroutine takes requests from
// an unbuffered channel and runs each Send to completion before taking
// the next), and retries transient connect failures with outcome-paced
// backoff.
type Service struct {
	connect  ConnectChat
	outcomes *outcomes.Registry
	logger   *slog.Logger

	requestTimeout time.Duration
	idleTimeout    time.Duration

	mu      sync.Mutex
	sender  chat.Connection
	handler *handler

	sessionID SessionID
	session   Session
}

// New constructs a Service against the given ConnectChat capability.
func New(connect ConnectChat, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		connect:        connect,
		outcomes:       outcomes.NewRegistry(chatBackoffParams()),
		logger:         logger,
		requestTimeout: RequestTimeout,
		idleTimeout:    InactivityTimeout,
	}
}

// SessionID returns the currently bound session's ID, or "" if none.
func (s *Service) SessionID() SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SessionState returns the last server-reported Session summary.
func (s *Service) SessionState() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CreateSession POSTs /v1/verification/session (spec §4.7, §6) and binds
// the service to the returned session ID on success.
func (s *Service) CreateSession(ctx context.Context, r CreateSessionRequest) error {
	body, err := json.Marshal(struct {
		Number string `json:"number"`
	}{Number: r.Number})
	if err != nil {
		return fmt.Errorf("registration: encode create-session body: %w", err)
	}

	resp, err := s.sendRequest(ctx, chat.Request{
		Verb:    "POST",
		Path:    "/v1/verification/session",
		Body:    body,
		Headers: []string{"content-type: application/json"},
	})
	if err != nil {
		return err
	}
	return s.bindSession(resp)
}

// ResumeSession GETs /v1/verification/session/{id} (spec §4.7, §6) and
// rebinds the service to the server's current view of that session.
func (s *Service) ResumeSession(ctx context.Context, id SessionID) error {
	resp, err := s.sendRequest(ctx, chat.Request{
		Verb: "GET",
		Path: fmt.Sprintf("/v1/verification/session/%s", id),
	})
	if err != nil {
		return err
	}
	return s.bindSession(resp)
}

// SubmitRequest issues a POST/PATCH against the bound session (spec
// §4.7). Returns ErrNoBoundSession if no session has been created or
// resumed yet.
func (s *Service) SubmitRequest(ctx context.Context, r SubmitRequest) (chat.Response, error) {
	id := s.SessionID()
	if id == "" {
		return chat.Response{}, ErrNoBoundSession
	}
	return s.sendRequest(ctx, chat.Request{
		Verb:    r.Method,
		Path:    fmt.Sprintf("/v1/verification/session/%s%s", id, r.PathSuffix),
		Body:    r.Body,
		Headers: r.Headers,
	})
}

func (s *Service) bindSession(resp chat.Response) error {
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("registration: server returned status %d", resp.Status)
	}
	var sr sessionResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrIncomingDataInvalid, err)
	}
	s.mu.Lock()
	s.sessionID = sr.SessionID
	s.session = sr.Session
	s.mu.Unlock()
	return nil
}

// sendRequest implements the shared send_request helper (spec §4.7):
//
//	loop:
//	  sender = existing sender, or spawn_connected_chat()
//	  match send_on(sender):
//	    ConnectionLost  -> sender = None; continue
//	    RequestTimedOut -> return Timeout
//	    Ok(response)    -> return response
//	    Unknown(msg)    -> return Unknown(msg)
func (s *Service) sendRequest(ctx context.Context, req chat.Request) (chat.Response, error) {
	for {
		s.mu.Lock()
		h := s.handler
		sender := s.sender
		s.mu.Unlock()

		if sender == nil {
			conn, onDisconnect, err := s.spawnConnectedChat(ctx)
			if err != nil {
				return chat.Response{}, err
			}
			h = newHandler(conn, onDisconnect, s.idleTimeout, s.logger)
			s.mu.Lock()
			s.sender = conn
			s.handler = h
			s.mu.Unlock()
			sender = conn
		}

		resp, err := h.submit(ctx, req, s.requestTimeout)

		if errors.Is(err, chat.ErrDisconnected) {
			s.mu.Lock()
			if s.sender == sender {
				s.sender = nil
				s.handler = nil
			}
			s.mu.Unlock()
			continue
		}
		if errors.Is(err, chat.ErrRequestTimedOut) {
			return chat.Response{}, ErrTimeout
		}
		return resp, err
	}
}

// spawnConnectedChat drives ConnectChat with retry, classifying each
// failure per spec §4.7.
func (s *Service) spawnConnectedChat(ctx context.Context) (chat.Connection, <-chan struct{}, error) {
	for {
		if delay := s.outcomes.Delay(chatTransportKey, time.Now()); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, nil, ctx.Err()
			}
		}

		onDisconnect := make(chan struct{})
		conn, err := s.connect.ConnectChat(ctx, onDisconnect)
		if err == nil {
			s.outcomes.Apply([]outcomes.Update{{Key: chatTransportKey, Timestamp: time.Now()}})
			return conn, onDisconnect, nil
		}

		var retryLater *RetryLaterError
		switch {
		case errors.Is(err, ErrInvalidConnectionConfiguration):
			return nil, nil, &UnknownError{Msg: "invalid chat client configuration"}
		case errors.As(err, &retryLater):
			return nil, nil, retryLater
		case errors.Is(err, ErrAppExpired):
			return nil, nil, &UnexpectedError{Msg: "app expired"}
		case errors.Is(err, ErrDeviceDeregistered):
			return nil, nil, &UnexpectedError{Msg: "device deregistered"}
		default:
			// Timeout, AllAttemptsFailed, WebSocket(_): retryable, paced by
			// the chat-transport outcome delay.
			s.outcomes.Apply([]outcomes.Update{{Key: chatTransportKey, Failed: true, Timestamp: time.Now()}})
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
		}
	}
}
