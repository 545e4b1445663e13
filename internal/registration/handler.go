package registration

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/netcore/internal/chat"
)

// inflightReq is the internal (ChatRequest, responder) pair (spec §3
// "IncomingRequest"): created at submit, consumed either by the handler
// on send completion or abandoned if the caller's ctx is cancelled
// before the handler dequeues it.
type inflightReq struct {
	ctx      context.Context
	req      chat.Request
	timeout  time.Duration
	resultCh chan sendOutcome
}

type sendOutcome struct {
	resp chat.Response
	err  error
}

// handler owns one chat.Connection and runs the Idle/InFlight/Shutdown
// state machine of spec §4.7 as a single goroutine driven by an explicit
// select loop (spec §9 "coroutine control flow ... expressed as an
// explicit event loop"). The service hands requests to the task through
// incoming. The task exits when onDisconnect fires, when the inactivity
// timer elapses, or when incoming is closed; Service never closes
// incoming, so an unused task ends by the inactivity timer.
type handler struct {
	conn         chat.Connection
	onDisconnect <-chan struct{}
	incoming     chan *inflightReq
	idleTimeout  time.Duration
	logger       *slog.Logger
	done         chan struct{}
}

func newHandler(conn chat.Connection, onDisconnect <-chan struct{}, idleTimeout time.Duration, logger *slog.Logger) *handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		conn:         conn,
		onDisconnect: onDisconnect,
		incoming:     make(chan *inflightReq),
		idleTimeout:  idleTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
	go h.run()
	return h
}

// submit enqueues a request and blocks for its outcome. Dropping ctx
// before the handler dequeues the request is the Go analogue of "dropping
// the responder": the handler observes req.ctx.Err() != nil right after
// dequeue and abandons the send without writing any bytes (spec §5
// "Dropping a request responder ... must cause the handler to abandon
// the in-flight send if it has not been written to the socket").
func (h *handler) submit(ctx context.Context, req chat.Request, timeout time.Duration) (chat.Response, error) {
	ir := &inflightReq{ctx: ctx, req: req, timeout: timeout, resultCh: make(chan sendOutcome, 1)}

	select {
	case h.incoming <- ir:
	case <-h.done:
		return chat.Response{}, chat.ErrDisconnected
	case <-ctx.Done():
		return chat.Response{}, ctx.Err()
	}

	select {
	case out := <-ir.resultCh:
		return out.resp, out.err
	case <-h.done:
		return chat.Response{}, chat.ErrDisconnected
	}
}

func (h *handler) run() {
	defer close(h.done)

	timer := time.NewTimer(h.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-h.onDisconnect:
			h.logger.Debug("registration: handler shutdown: connection lost")
			return

		case ir, ok := <-h.incoming:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			if ir.ctx.Err() != nil {
				// Responder already dropped: no bytes emitted (spec §8
				// round-trip law).
			} else {
				resp, err := h.conn.Send(ir.ctx, ir.req, ir.timeout)
				select {
				case ir.resultCh <- sendOutcome{resp: resp, err: err}:
				default:
				}
			}

			timer.Reset(h.idleTimeout)

		case <-timer.C:
			h.logger.Debug("registration: handler shutdown: inactivity timeout elapsed")
			h.conn.Disconnect()
			return
		}
	}
}
