package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nugget/netcore/internal/route"
)

type preconnectEntry struct {
	stream Stream
	at     time.Time
}

// PreconnectingConnector caches at most one successfully connected stream
// per route, for a bounded lifetime (spec §4.4). SavePreconnected inserts
// a warmed-up stream (e.g. from a speculative TLS preconnect); ConnectOver
// consumes a fresh-enough cached entry instead of dialing, or falls
// through to the wrapped Connector.
type PreconnectingConnector struct {
	inner    Connector
	lifetime time.Duration

	mu      sync.Mutex
	entries map[string]preconnectEntry
}

// NewPreconnectingConnector wraps inner, caching streams for lifetime
// (spec §3 suggests 1.5s — SUGGESTED_TLS_PRECONNECT_LIFETIME).
func NewPreconnectingConnector(inner Connector, lifetime time.Duration) *PreconnectingConnector {
	return &PreconnectingConnector{
		inner:    inner,
		lifetime: lifetime,
		entries:  make(map[string]preconnectEntry),
	}
}

func cacheKey(r route.Resolved) string {
	return fmt.Sprintf("%s@%s", r.Unresolved.TransportKey(), r.Addr)
}

// SavePreconnected inserts a pre-established stream for r, timestamped at
// `at`. A later ConnectOver for the same route reuses it if still fresh.
func (p *PreconnectingConnector) SavePreconnected(r route.Resolved, s Stream, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[cacheKey(r)] = preconnectEntry{stream: s, at: at}
}

// ConnectOver implements Connector.
func (p *PreconnectingConnector) ConnectOver(ctx context.Context, r route.Resolved, logTag string) (Stream, error) {
	key := cacheKey(r)

	p.mu.Lock()
	entry, ok := p.entries[key]
	if ok {
		delete(p.entries, key) // consumed whether fresh or expired
	}
	p.mu.Unlock()

	if ok && time.Since(entry.at) < p.lifetime {
		return entry.stream, nil
	}
	if ok {
		entry.stream.Close() // expired — drop it rather than leak the fd
	}

	return p.inner.ConnectOver(ctx, r, logTag)
}
