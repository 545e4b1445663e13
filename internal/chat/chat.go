package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// AlertsPath is the well-known incoming-request path the server uses to
// push the current alert list (spec §9 Open Question: "the fake harness
// accepts empty-string alerts as 'no alerts' via a terminator-aware
// split"). A frame arriving on this path is not forwarded to Listener as
// an ordinary incoming request; its body is parsed and delivered via
// Listener.OnAlerts instead.
const AlertsPath = "/v1/alerts"

// Timers carries the idle/ping/disconnect timers from Config (spec §3).
type Timers struct {
	IdleTimeout       time.Duration // no traffic in either direction for this long -> send a ping
	PingIdleTimeout   time.Duration // no traffic (such as the pong) for this long after a ping -> treat as dead
	DisconnectTimeout time.Duration // no traffic of any kind for this long -> disconnect
}

// DefaultTimers returns the suggested values from spec §3.
func DefaultTimers() Timers {
	return Timers{
		IdleTimeout:       10 * time.Second,
		PingIdleTimeout:   10 * time.Second,
		DisconnectTimeout: 30 * time.Second,
	}
}

// Listener receives server-initiated activity (spec §4.6). Callbacks are
// invoked from the connection's read loop and must not be invoked while
// any library lock is held (spec §5); implementations that need to do
// slow work should hand it off rather than block the read loop.
type Listener interface {
	// OnIncomingRequest delivers a server-initiated request frame that is
	// not an alerts push.
	OnIncomingRequest(req Request)
	// OnAlerts delivers the server's current alert list, parsed from an
	// AlertsPath push (spec §9 Open Question #2).
	OnAlerts(alerts []string)
	// OnDisconnect fires exactly once, when the connection has gone away
	// for any reason (spec §4.6 "an on_disconnect one-shot signal is
	// delivered exactly once").
	OnDisconnect()
}

// Connection is the interface both the real WebSocket-backed Conn and
// the fakechat test double implement, so registration.Service can be
// constructed identically against either (spec §4.8).
type Connection interface {
	Send(ctx context.Context, req Request, timeout time.Duration) (Response, error)
	Disconnect() error
}

type pendingResult struct {
	resp Response
	err  error
}

// Conn is a WebSocket request/response multiplexer (spec §4.6),
// generalizing the teacher's homeassistant.WSClient from a JSON
// command/result protocol to this core's length-delimited binary one.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	timers Timers

	nextID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingResult

	writeMu sync.Mutex

	listener     Listener
	disconnectMu sync.Mutex
	disconnected bool
	done         chan struct{}

	lastActivity atomic.Int64 // unix nanos
}

// Dial performs the WebSocket upgrade over an already-established
// transport stream and returns a ready-to-use Conn. conn must additionally
// satisfy net.Conn (every concrete Stream this core produces does: TLS
// connections and the test harness's in-process pipes).
func Dial(ctx context.Context, conn net.Conn, u *url.URL, header http.Header, timers Timers, listener Listener, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if listener == nil {
		listener = noopListener{}
	}

	ws, resp, err := websocket.NewClient(conn, u, header, 4096, 4096)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &WebSocketError{Err: err}
	}

	c := &Conn{
		ws:       ws,
		logger:   logger,
		timers:   timers,
		pending:  make(map[uint64]chan pendingResult),
		listener: listener,
		done:     make(chan struct{}),
	}
	c.touch()
	ws.SetPongHandler(func(string) error { c.touch(); return nil })

	go c.readLoop()
	go c.idleLoop(ctx)

	return c, nil
}

func (c *Conn) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Send implements Connection (spec §4.6): assigns the next monotonic
// request ID, writes the framed request, and blocks until the matched
// response arrives, timeout elapses, or the connection is lost.
func (c *Conn) Send(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	if err := ValidateHeaders(req.Headers); err != nil {
		return Response{}, err
	}

	req.ID = c.nextID.Add(1) - 1

	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.ws.WriteMessage(websocket.BinaryMessage, encodeRequest(req))
	c.writeMu.Unlock()
	if err != nil {
		c.Disconnect()
		return Response{}, &WebSocketError{Err: err}
	}
	c.touch()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pr := <-ch:
		return pr.resp, pr.err
	case <-timer.C:
		return Response{}, ErrRequestTimedOut
	case <-c.done:
		return Response{}, ErrDisconnected
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Disconnect closes the socket cleanly and resolves every outstanding
// responder with ErrDisconnected before returning (spec §8 invariant: "On
// ChatConnection.Disconnect(), all outstanding responders are resolved
// with Disconnected before Disconnect returns"). Idempotent.
func (c *Conn) Disconnect() error {
	c.disconnectMu.Lock()
	if c.disconnected {
		c.disconnectMu.Unlock()
		return nil
	}
	c.disconnected = true
	close(c.done)
	c.disconnectMu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- pendingResult{err: ErrDisconnected}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.listener.OnDisconnect()

	return err
}

func (c *Conn) readLoop() {
	defer c.Disconnect()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("chat: read loop exiting", "error", err)
			return
		}
		c.touch()

		tag, req, resp, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("chat: malformed frame", "error", err)
			continue
		}

		switch tag {
		case frameResponse:
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.ID]
			if ok {
				delete(c.pending, resp.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- pendingResult{resp: resp}
			}

		case frameRequest:
			c.dispatchIncoming(req)
		}
	}
}

func (c *Conn) dispatchIncoming(req Request) {
	if req.Path == AlertsPath {
		c.listener.OnAlerts(ParseAlerts(string(req.Body)))
	} else {
		c.listener.OnIncomingRequest(req)
	}

	// Acknowledge every server-pushed frame so the server's own
	// request/response bookkeeping is satisfied; the application-level
	// reply content is out of scope for this core (spec §1).
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.BinaryMessage, encodeResponse(Response{Status: 200, ID: req.ID}))
	c.writeMu.Unlock()
}

// ParseAlerts implements the Open Question decision in DESIGN.md: split on
// "\n" and drop empty strings, matching the Rust source's
// split_terminator('\n') behavior. Shared by the real connection and the
// fakechat harness so both parse pushed alert bodies identically.
func ParseAlerts(body string) []string {
	if body == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(body, "\n") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// idleLoop drives the idle/ping/disconnect timers (spec §3: 10s idle, 10s
// ping idle, 30s disconnect idle for WS framing).
func (c *Conn) idleLoop(ctx context.Context) {
	if c.timers == (Timers{}) {
		c.timers = DefaultTimers()
	}
	ticker := time.NewTicker(c.timers.IdleTimeout)
	defer ticker.Stop()

	var pingSentAt time.Time
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return
		case <-c.done:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastActivity.Load())
			since := time.Since(last)

			if since >= c.timers.DisconnectTimeout {
				c.logger.Debug("chat: disconnect idle timeout elapsed")
				c.Disconnect()
				return
			}

			if !pingSentAt.IsZero() && last.After(pingSentAt) {
				pingSentAt = time.Time{} // answered: traffic arrived after the ping
			}
			if !pingSentAt.IsZero() && time.Since(pingSentAt) >= c.timers.PingIdleTimeout {
				c.logger.Debug("chat: ping idle timeout elapsed, no pong")
				c.Disconnect()
				return
			}

			if since >= c.timers.IdleTimeout {
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				c.writeMu.Unlock()
				if err != nil {
					c.Disconnect()
					return
				}
				pingSentAt = time.Now()
			}
		}
	}
}

type noopListener struct{}

func (noopListener) OnIncomingRequest(Request) {}
func (noopListener) OnAlerts([]string)         {}
func (noopListener) OnDisconnect()             {}

var _ Connection = (*Conn)(nil)

// ParseURL is a convenience wrapper used by callers constructing the
// dial target from a route's HTTP/WS fragments.
func ParseURL(scheme, hostHeader, path string) (*url.URL, error) {
	u := &url.URL{Scheme: scheme, Host: hostHeader, Path: path}
	if u.Host == "" {
		return nil, fmt.Errorf("chat: empty host header")
	}
	return u, nil
}
