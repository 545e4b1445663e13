// Package transport turns one resolved route into a byte-duplex stream
// (spec §2 "TransportConnector turns one resolved transport route (TCP ->
// optional proxy -> TLS) into a byte-duplex stream"), and provides the
// ThrottlingConnector and PreconnectingConnector wrappers described in
// spec §4.3–§4.4.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/nugget/netcore/internal/route"
)

// Stream is the byte-duplex connection a Connector produces.
type Stream interface {
	io.ReadWriteCloser
}

// Connector turns one resolved route into a Stream. Implementations must
// be cancel-safe: if ctx is cancelled mid-dial, ConnectOver must return
// promptly with ctx.Err() (or a wrapped form of it).
type Connector interface {
	ConnectOver(ctx context.Context, r route.Resolved, logTag string) (Stream, error)
}

// ErrClientAbort is the distinguished transport error used to signal
// intentional cancellation (network change, caller shutdown) rather than
// external failure (spec glossary "ClientAbort"). The racer's classifier
// must mark this Fatal, never Intermittent.
var ErrClientAbort = errors.New("transport: client abort")

// IsRetryable reports whether err is a transient, dial-level failure that
// is a reasonable candidate for the racer's Intermittent classification
// (as opposed to a clearly Fatal misconfiguration). Adapted from this
// codebase's httpkit.isRetryableError syscall classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClientAbort) {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
		if opErr.Timeout() {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
