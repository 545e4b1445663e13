package transport

import (
	"context"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/netcore/internal/route"
)

type countingConnector struct {
	calls atomic.Int32
}

func (c *countingConnector) ConnectOver(ctx context.Context, r route.Resolved, logTag string) (Stream, error) {
	c.calls.Add(1)
	return &fakeStream{}, nil
}

func testResolved() route.Resolved {
	return route.Resolved{
		Unresolved: route.Unresolved{
			Transport: route.TLSFragment{
				SNI:   "chat.example.org",
				Inner: route.DirectOrProxy{Direct: &route.TCPEndpoint{Host: "chat.example.org", Port: 443}},
			},
		},
		Addr: netip.MustParseAddr("10.0.0.1"),
	}
}

func TestPreconnectingConnector_ReusesFreshEntry(t *testing.T) {
	t.Parallel()
	inner := &countingConnector{}
	pc := NewPreconnectingConnector(inner, 1500*time.Millisecond)
	r := testResolved()

	cached := &fakeStream{}
	pc.SavePreconnected(r, cached, time.Now())

	got, err := pc.ConnectOver(context.Background(), r, "t")
	if err != nil {
		t.Fatalf("ConnectOver error: %v", err)
	}
	if got != Stream(cached) {
		t.Error("expected cached stream to be returned")
	}
	if inner.calls.Load() != 0 {
		t.Errorf("inner connector called %d times, want 0", inner.calls.Load())
	}
}

func TestPreconnectingConnector_FallsThroughWhenExpired(t *testing.T) {
	t.Parallel()
	inner := &countingConnector{}
	pc := NewPreconnectingConnector(inner, 10*time.Millisecond)
	r := testResolved()

	pc.SavePreconnected(r, &fakeStream{}, time.Now().Add(-time.Second))

	_, err := pc.ConnectOver(context.Background(), r, "t")
	if err != nil {
		t.Fatalf("ConnectOver error: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner connector called %d times, want 1", inner.calls.Load())
	}
}

func TestPreconnectingConnector_EntryConsumedOnce(t *testing.T) {
	t.Parallel()
	inner := &countingConnector{}
	pc := NewPreconnectingConnector(inner, 1500*time.Millisecond)
	r := testResolved()

	pc.SavePreconnected(r, &fakeStream{}, time.Now())

	pc.ConnectOver(context.Background(), r, "t") // consumes the cached entry
	pc.ConnectOver(context.Background(), r, "t") // must fall through this time

	if inner.calls.Load() != 1 {
		t.Errorf("inner connector called %d times, want 1 (second call should dial fresh)", inner.calls.Load())
	}
}

func TestPreconnectingConnector_FallsThroughWithNoEntry(t *testing.T) {
	t.Parallel()
	inner := &countingConnector{}
	pc := NewPreconnectingConnector(inner, 1500*time.Millisecond)

	_, err := pc.ConnectOver(context.Background(), testResolved(), "t")
	if err != nil {
		t.Fatalf("ConnectOver error: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner connector called %d times, want 1", inner.calls.Load())
	}
}
