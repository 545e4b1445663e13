// Package connectchat wires the route racer and ChatConnection together
// into the registration.ConnectChat capability (spec §2: "RegistrationService
// uses a ConnectChat capability (which internally drives the above)").
// This is the glue layer cmd/netconnect constructs at startup; tests
// exercise registration.Service directly against internal/fakechat
// instead, per spec §4.8.
package connectchat

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/nugget/netcore/internal/chat"
	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/racer"
	"github.com/nugget/netcore/internal/registration"
	"github.com/nugget/netcore/internal/route"
)

// Connector is the subset of *racer.Racer / *ifacemon.Orchestrator this
// package needs: race a route set to a live transport.Stream. An
// *ifacemon.Orchestrator already satisfies this signature directly; a
// bare *racer.Racer is adapted by RacerAdapter below.
type Connector interface {
	Connect(ctx context.Context, routes []route.Unresolved, logTag string) (*racer.Result, error)
}

// RacerAdapter adapts a bare *racer.Racer (which returns OutcomeUpdates
// for the caller to apply) into a Connector that applies them itself,
// matching the two-return shape *ifacemon.Orchestrator already has.
type RacerAdapter struct {
	Racer    *racer.Racer
	Registry *outcomes.Registry
}

// Connect implements Connector.
func (a *RacerAdapter) Connect(ctx context.Context, routes []route.Unresolved, logTag string) (*racer.Result, error) {
	res, updates, err := a.Racer.Connect(ctx, routes, logTag)
	a.Registry.Apply(updates)
	return res, err
}

// DialURL builds the WebSocket dial target from a successful race's
// RouteInfo. The default implementation points at wss://<host-header><path>.
func DialURL(info route.Info) *url.URL {
	return &url.URL{Scheme: "wss", Host: info.HostHeader, Path: info.Path}
}

// Default implements registration.ConnectChat by racing Routes and
// layering a ChatConnection on the winning transport stream (spec §2, §6
// "ConnectChat.connect_chat(on_disconnect) -> ChatConnection |
// ChatConnectError").
type Default struct {
	Connector Connector
	Routes    []route.Unresolved
	LogTag    string
	Header    http.Header
	Timers    chat.Timers
	Logger    *slog.Logger

	// URLFor overrides DialURL when set, e.g. to carry per-route WS
	// headers distinct from Header.
	URLFor func(route.Info) *url.URL
}

var _ registration.ConnectChat = (*Default)(nil)

// ConnectChat implements registration.ConnectChat. Any error returned by
// Connector.Connect (racer.ErrTimeout, racer.ErrAllAttemptsFailed,
// *racer.FatalConnectError, ifacemon.ErrInterfaceChanged) or by chat.Dial
// falls through unclassified to registration.Service's spawnConnectedChat,
// which treats anything outside its four fatal sentinels as retryable —
// exactly spec §4.7's "Timeout, AllAttemptsFailed, WebSocket(_) ->
// retryable" bucket.
func (d *Default) ConnectChat(ctx context.Context, onDisconnect chan<- struct{}) (chat.Connection, error) {
	res, err := d.Connector.Connect(ctx, d.Routes, d.LogTag)
	if err != nil {
		return nil, err
	}

	netConn, ok := res.Stream.(net.Conn)
	if !ok {
		res.Stream.Close()
		return nil, registration.ErrInvalidConnectionConfiguration
	}

	urlFor := d.URLFor
	if urlFor == nil {
		urlFor = DialURL
	}

	listener := &disconnectListener{ch: onDisconnect}
	conn, err := chat.Dial(ctx, netConn, urlFor(res.Info), d.Header, d.Timers, listener, d.Logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// disconnectListener adapts chat.Listener's OnDisconnect to the
// send-once-and-close on_disconnect channel registration.Service expects
// (spec §9 "the task observes handle drop via channel closure").
type disconnectListener struct {
	ch   chan<- struct{}
	once sync.Once
}

func (l *disconnectListener) OnIncomingRequest(chat.Request) {}
func (l *disconnectListener) OnAlerts([]string)              {}
func (l *disconnectListener) OnDisconnect() {
	l.once.Do(func() { close(l.ch) })
}
