package transport

import (
	"context"

	"github.com/nugget/netcore/internal/route"
)

// ThrottlingConnector wraps an inner Connector and enforces a global
// concurrency cap N (spec §4.3; N=1 for TLS). Acquisition is cancel-safe:
// if ctx is cancelled while waiting for a slot, ConnectOver returns
// ctx.Err() without ever occupying a slot.
type ThrottlingConnector struct {
	inner Connector
	slots chan struct{}
}

// NewThrottlingConnector wraps inner with a concurrency cap of n.
func NewThrottlingConnector(inner Connector, n int) *ThrottlingConnector {
	if n < 1 {
		n = 1
	}
	return &ThrottlingConnector{
		inner: inner,
		slots: make(chan struct{}, n),
	}
}

// ConnectOver implements Connector.
func (t *ThrottlingConnector) ConnectOver(ctx context.Context, r route.Resolved, logTag string) (Stream, error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-t.slots }()

	return t.inner.ConnectOver(ctx, r, logTag)
}
