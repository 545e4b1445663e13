// Package fakechat implements the fake-chat harness (spec §4.8): the
// observable test surface for the racer and registration.Service. A
// FakeChatConnection hands back two halves over in-memory channels — a
// local handle implementing the same chat.Connection interface the real
// WebSocket-backed chat.Conn implements, and a remote handle the test
// driver uses to play the part of the server (inject requests, answer
// with responses, or simulate an interrupted connection).
//
// Grounded on this codebase's in-process test-double style
// (homeassistant/websocket_test.go spins up an httptest.Server WebSocket
// peer); here the double skips the network entirely.
package fakechat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/netcore/internal/chat"
)

// PolicyViolationCode is the WebSocket close code the harness uses to
// inject "connection interrupted" (spec §6: "code 1008 signals policy
// violation and is used by the fake harness to inject 'connection
// interrupted'").
const PolicyViolationCode = 1008

type frameKind int

const (
	kindResponse frameKind = iota
	kindRequest
	kindClose
)

type serverFrame struct {
	kind frameKind
	resp chat.Response
	req  chat.Request
	code int
}

type localResult struct {
	resp chat.Response
	err  error
}

// Local is the client-side half of a fake chat connection. It implements
// chat.Connection identically to the real WebSocket-backed chat.Conn, so
// code under test (the racer, registration.Service) is expressible
// against either without modification.
type Local struct {
	out chan chat.Request
	in  chan serverFrame

	listener chat.Listener

	nextID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan localResult

	done           chan struct{}
	disconnectOnce sync.Once
}

// Remote is the server-side test-driver handle: it sees every request the
// Local side sends, and can push responses, server-initiated requests, or
// a simulated close.
type Remote struct {
	out chan chat.Request
	in  chan serverFrame

	nextPushID atomic.Uint64
}

// New constructs a connected (Local, Remote) pair. listener may be nil.
func New(listener chat.Listener) (*Local, *Remote) {
	if listener == nil {
		listener = noopListener{}
	}
	out := make(chan chat.Request, 16)
	in := make(chan serverFrame, 16)

	l := &Local{
		out:      out,
		in:       in,
		listener: listener,
		pending:  make(map[uint64]chan localResult),
		done:     make(chan struct{}),
	}
	go l.dispatch()

	r := &Remote{out: out, in: in}
	return l, r
}

// Send implements chat.Connection.
func (l *Local) Send(ctx context.Context, req chat.Request, timeout time.Duration) (chat.Response, error) {
	if err := chat.ValidateHeaders(req.Headers); err != nil {
		return chat.Response{}, err
	}

	req.ID = l.nextID.Add(1) - 1

	ch := make(chan localResult, 1)
	l.pendingMu.Lock()
	l.pending[req.ID] = ch
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, req.ID)
		l.pendingMu.Unlock()
	}()

	select {
	case l.out <- req:
	case <-l.done:
		return chat.Response{}, chat.ErrDisconnected
	case <-ctx.Done():
		return chat.Response{}, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		return chat.Response{}, chat.ErrRequestTimedOut
	case <-l.done:
		return chat.Response{}, chat.ErrDisconnected
	case <-ctx.Done():
		return chat.Response{}, ctx.Err()
	}
}

// Disconnect implements chat.Connection. Idempotent; resolves every
// outstanding responder with ErrDisconnected before returning (spec §8).
func (l *Local) Disconnect() error {
	l.disconnectOnce.Do(func() {
		close(l.done)
		l.pendingMu.Lock()
		for id, ch := range l.pending {
			ch <- localResult{err: chat.ErrDisconnected}
			delete(l.pending, id)
		}
		l.pendingMu.Unlock()
		l.listener.OnDisconnect()
	})
	return nil
}

func (l *Local) dispatch() {
	for {
		select {
		case <-l.done:
			return
		case f := <-l.in:
			switch f.kind {
			case kindResponse:
				l.pendingMu.Lock()
				ch, ok := l.pending[f.resp.ID]
				if ok {
					delete(l.pending, f.resp.ID)
				}
				l.pendingMu.Unlock()
				if ok {
					ch <- localResult{resp: f.resp}
				}

			case kindRequest:
				if f.req.Path == chat.AlertsPath {
					l.listener.OnAlerts(chat.ParseAlerts(string(f.req.Body)))
				} else {
					l.listener.OnIncomingRequest(f.req)
				}

			case kindClose:
				l.Disconnect()
				return
			}
		}
	}
}

// ReceiveRequest blocks until the Local side sends a request, ctx is
// cancelled, or timeout-free return via ok=false on cancellation.
func (r *Remote) ReceiveRequest(ctx context.Context) (chat.Request, bool) {
	select {
	case req := <-r.out:
		return req, true
	case <-ctx.Done():
		return chat.Request{}, false
	}
}

// SendResponse answers a request previously observed via ReceiveRequest.
func (r *Remote) SendResponse(resp chat.Response) {
	r.in <- serverFrame{kind: kindResponse, resp: resp}
}

// SendRequest pushes a server-initiated request to the Local side,
// assigning it the next server-side push ID.
func (r *Remote) SendRequest(req chat.Request) {
	req.ID = r.nextPushID.Add(1) - 1
	r.in <- serverFrame{kind: kindRequest, req: req}
}

// SendAlerts pushes an AlertsPath request carrying alerts newline-joined
// in the body, matching the real server's framing.
func (r *Remote) SendAlerts(alerts []string) {
	body := ""
	for i, a := range alerts {
		if i > 0 {
			body += "\n"
		}
		body += a
	}
	r.SendRequest(chat.Request{Verb: "PUT", Path: chat.AlertsPath, Body: []byte(body)})
}

// SendClose simulates the server closing the connection with the given
// WebSocket close code (spec §6; PolicyViolationCode injects "connection
// interrupted").
func (r *Remote) SendClose(code int) {
	r.in <- serverFrame{kind: kindClose, code: code}
}

type noopListener struct{}

func (noopListener) OnIncomingRequest(chat.Request) {}
func (noopListener) OnAlerts([]string)              {}
func (noopListener) OnDisconnect()                  {}

var _ chat.Connection = (*Local)(nil)
