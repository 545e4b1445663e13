package connectchat

import (
	"context"
	"errors"
	"testing"

	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/racer"
	"github.com/nugget/netcore/internal/registration"
	"github.com/nugget/netcore/internal/route"
)

// nonNetStream satisfies transport.Stream but not net.Conn, exercising
// the defensive type assertion in Default.ConnectChat.
type nonNetStream struct{}

func (nonNetStream) Read([]byte) (int, error)  { return 0, nil }
func (nonNetStream) Write([]byte) (int, error) { return 0, nil }
func (nonNetStream) Close() error              { return nil }

type stubConnector struct {
	res *racer.Result
	err error
}

func (s stubConnector) Connect(ctx context.Context, routes []route.Unresolved, logTag string) (*racer.Result, error) {
	return s.res, s.err
}

func TestDefaultConnectChatPropagatesConnectError(t *testing.T) {
	t.Parallel()
	d := &Default{
		Connector: stubConnector{err: racer.ErrAllAttemptsFailed},
		Routes:    []route.Unresolved{{}},
	}
	onDisconnect := make(chan struct{})
	_, err := d.ConnectChat(context.Background(), onDisconnect)
	if !errors.Is(err, racer.ErrAllAttemptsFailed) {
		t.Fatalf("err = %v, want ErrAllAttemptsFailed", err)
	}
}

func TestDefaultConnectChatRejectsNonNetStream(t *testing.T) {
	t.Parallel()
	d := &Default{
		Connector: stubConnector{res: &racer.Result{
			Stream: nonNetStream{},
			Info:   route.Info{},
		}},
		Routes: []route.Unresolved{{}},
	}
	onDisconnect := make(chan struct{})
	_, err := d.ConnectChat(context.Background(), onDisconnect)
	if !errors.Is(err, registration.ErrInvalidConnectionConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConnectionConfiguration", err)
	}
}

func TestDialURLUsesHostHeaderAndPath(t *testing.T) {
	t.Parallel()
	info := route.Info{HostHeader: "chat.example.org", Path: "/v1/websocket"}
	u := DialURL(info)
	if u.Scheme != "wss" || u.Host != "chat.example.org" || u.Path != "/v1/websocket" {
		t.Fatalf("DialURL = %v", u)
	}
}

func TestRacerAdapterAppliesOutcomeUpdates(t *testing.T) {
	t.Parallel()
	registry := outcomes.NewRegistry(outcomes.Params{
		AgeCutoff: 0, CooldownGrowthFactor: 1.5, CountGrowthFactor: 10, MaxCount: 5, MaxDelay: 0,
	})
	r := racer.New(failingResolver{}, nil, registry, func(error) racer.Classification {
		return racer.Classification{Kind: racer.Intermittent}
	}, 0)
	adapter := &RacerAdapter{Racer: r, Registry: registry}

	key := route.Unresolved{
		Transport: route.TLSFragment{SNI: "example.org", Inner: route.DirectOrProxy{Direct: &route.TCPEndpoint{Host: "example.org", Port: 443}}},
	}.TransportKey()

	_, err := adapter.Connect(context.Background(), []route.Unresolved{{
		Transport: route.TLSFragment{SNI: "example.org", Inner: route.DirectOrProxy{Direct: &route.TCPEndpoint{Host: "example.org", Port: 443}}},
	}}, "t")
	if !errors.Is(err, racer.ErrAllAttemptsFailed) {
		t.Fatalf("err = %v, want ErrAllAttemptsFailed", err)
	}
	if registry.Count(key) != 1 {
		t.Fatalf("Registry.Count(key) = %d, want 1 (adapter must apply outcome updates itself)", registry.Count(key))
	}
}

// failingResolver always fails lookups, forcing the racer down the
// classify-as-intermittent path so RacerAdapter has outcome updates to
// apply.
type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, u route.Unresolved) ([]route.Resolved, error) {
	return nil, route.ErrLookupFailed
}
