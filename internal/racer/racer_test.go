package racer

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/route"
	"github.com/nugget/netcore/internal/transport"
)

func unresolvedFor(host string, port uint16) route.Unresolved {
	return route.Unresolved{
		Transport: route.TLSFragment{
			SNI:   host,
			Inner: route.DirectOrProxy{Direct: &route.TCPEndpoint{Host: host, Port: port}},
		},
	}
}

// zeroDelays never makes the racer wait; used by tests that only care
// about win/lose ordering, not scheduling.
type zeroDelays struct{}

func (zeroDelays) Delay(outcomes.TransportKey, time.Time) time.Duration { return 0 }

// mapResolver returns one fixed address per route, or an error if the
// route's SNI is listed in failLookup.
type mapResolver struct {
	failLookup map[string]error
}

func (m mapResolver) Resolve(ctx context.Context, u route.Unresolved) ([]route.Resolved, error) {
	if err, ok := m.failLookup[u.Transport.SNI]; ok {
		return nil, err
	}
	return []route.Resolved{{Unresolved: u, Addr: netip.MustParseAddr("10.0.0.1")}}, nil
}

type fakeStream struct{}

func (fakeStream) Read([]byte) (int, error)  { return 0, nil }
func (fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (fakeStream) Close() error              { return nil }

// scriptedConnector resolves per-route behavior by SNI: succeed
// immediately, fail immediately, or hang until ctx is done.
type scriptedConnector struct {
	succeed map[string]bool
	fail    map[string]error
	hang    map[string]bool
	calls   atomic.Int32
}

func (s *scriptedConnector) ConnectOver(ctx context.Context, r route.Resolved, logTag string) (transport.Stream, error) {
	s.calls.Add(1)
	sni := r.Unresolved.Transport.SNI
	if s.hang[sni] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := s.fail[sni]; ok {
		return nil, err
	}
	if s.succeed[sni] {
		return fakeStream{}, nil
	}
	return nil, errors.New("scriptedConnector: no script for " + sni)
}

func intermittentClassifier(err error) Classification {
	return Classification{Kind: Intermittent}
}

func TestConnect_NoRoutesIsNoResolvedRoutes(t *testing.T) {
	t.Parallel()
	r := New(mapResolver{}, &scriptedConnector{}, zeroDelays{}, intermittentClassifier, 0)
	_, _, err := r.Connect(context.Background(), nil, "t")
	if !errors.Is(err, ErrNoResolvedRoutes) {
		t.Fatalf("got %v, want ErrNoResolvedRoutes", err)
	}
}

func TestConnect_FirstSuccessWins(t *testing.T) {
	t.Parallel()
	conn := &scriptedConnector{
		fail:    map[string]error{"slow.example.org": errors.New("boom")},
		succeed: map[string]bool{"fast.example.org": true},
	}
	r := New(mapResolver{}, conn, zeroDelays{}, intermittentClassifier, time.Second)

	routes := []route.Unresolved{unresolvedFor("slow.example.org", 443), unresolvedFor("fast.example.org", 443)}
	res, updates, err := r.Connect(context.Background(), routes, "t")
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if res == nil || res.Info.HostHeader != "" && res.Info.TransportKey == "" {
		t.Fatalf("expected a successful result, got %+v", res)
	}
	_ = updates // the losing route may or may not have reported before the win; both are valid
}

func TestConnect_AllFailProducesAllAttemptsFailed(t *testing.T) {
	t.Parallel()
	conn := &scriptedConnector{
		fail: map[string]error{
			"a.example.org": errors.New("boom-a"),
			"b.example.org": errors.New("boom-b"),
		},
	}
	r := New(mapResolver{}, conn, zeroDelays{}, intermittentClassifier, time.Second)

	routes := []route.Unresolved{unresolvedFor("a.example.org", 443), unresolvedFor("b.example.org", 443)}
	res, updates, err := r.Connect(context.Background(), routes, "t")
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	if !errors.Is(err, ErrAllAttemptsFailed) {
		t.Fatalf("got %v, want ErrAllAttemptsFailed", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 failure updates, got %d", len(updates))
	}
	for _, u := range updates {
		if !u.Failed {
			t.Errorf("update %+v should be marked Failed", u)
		}
	}
}

func TestConnect_FatalCancelsEverythingAndBubblesUp(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("invalid configuration")
	conn := &scriptedConnector{
		fail: map[string]error{"a.example.org": sentinel},
		hang: map[string]bool{"b.example.org": true},
	}
	classify := func(err error) Classification {
		if errors.Is(err, sentinel) {
			return Classification{Kind: Fatal, Err: err}
		}
		return Classification{Kind: Intermittent}
	}
	r := New(mapResolver{}, conn, zeroDelays{}, classify, time.Second)

	routes := []route.Unresolved{unresolvedFor("a.example.org", 443), unresolvedFor("b.example.org", 443)}
	_, _, err := r.Connect(context.Background(), routes, "t")

	var fatal *FatalConnectError
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want *FatalConnectError", err)
	}
	if !errors.Is(fatal.Err, sentinel) {
		t.Errorf("fatal error does not wrap sentinel: %v", fatal.Err)
	}
}

func TestConnect_AllHangingTimesOut(t *testing.T) {
	t.Parallel()
	conn := &scriptedConnector{hang: map[string]bool{"a.example.org": true, "b.example.org": true}}
	r := New(mapResolver{}, conn, zeroDelays{}, intermittentClassifier, 50*time.Millisecond)

	routes := []route.Unresolved{unresolvedFor("a.example.org", 443), unresolvedFor("b.example.org", 443)}
	start := time.Now()
	_, _, err := r.Connect(context.Background(), routes, "t")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed < 40*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("elapsed = %v, want roughly the 50ms overall timeout", elapsed)
	}
}

func TestConnect_AddressFanOutRecordsFailureOnlyWhenAllAddrsFail(t *testing.T) {
	t.Parallel()
	resolver := multiAddrResolver{n: 3}
	conn := &scriptedConnector{fail: map[string]error{"multi.example.org": errors.New("boom")}}
	r := New(resolver, conn, zeroDelays{}, intermittentClassifier, time.Second)

	routes := []route.Unresolved{unresolvedFor("multi.example.org", 443)}
	_, updates, err := r.Connect(context.Background(), routes, "t")
	if !errors.Is(err, ErrAllAttemptsFailed) {
		t.Fatalf("got %v, want ErrAllAttemptsFailed", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected exactly one outcome update for the fanned-out route, got %d", len(updates))
	}
	if conn.calls.Load() != 3 {
		t.Errorf("expected all 3 addresses to be attempted, got %d calls", conn.calls.Load())
	}
}

type multiAddrResolver struct{ n int }

func (m multiAddrResolver) Resolve(ctx context.Context, u route.Unresolved) ([]route.Resolved, error) {
	out := make([]route.Resolved, m.n)
	for i := range out {
		out[i] = route.Resolved{Unresolved: u, Addr: netip.MustParseAddr("10.0.0.1")}
	}
	return out, nil
}

func TestConnect_ScheduleRespectsDelayPolicy(t *testing.T) {
	t.Parallel()
	// "later" route has a long configured delay; "now" route has none and
	// should win even though both would otherwise succeed instantly.
	delays := mapDelays{"direct:later.example.org:443:sni=later.example.org": 200 * time.Millisecond}
	conn := &scriptedConnector{succeed: map[string]bool{"now.example.org": true, "later.example.org": true}}
	r := New(mapResolver{}, conn, delays, intermittentClassifier, time.Second)

	routes := []route.Unresolved{unresolvedFor("later.example.org", 443), unresolvedFor("now.example.org", 443)}
	start := time.Now()
	res, _, err := r.Connect(context.Background(), routes, "t")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("elapsed = %v, expected the zero-delay route to win quickly", elapsed)
	}
	if res.Info.TransportKey != unresolvedFor("now.example.org", 443).TransportKey() {
		t.Errorf("expected the zero-delay route to win, got %+v", res.Info)
	}
}

type mapDelays map[outcomes.TransportKey]time.Duration

func (m mapDelays) Delay(key outcomes.TransportKey, now time.Time) time.Duration {
	return m[key]
}
