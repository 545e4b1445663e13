// Package route defines the route data model (spec §3): an UnresolvedRoute
// describing an intent to connect, a ResolvedRoute naming a concrete
// address, and the TransportKey used to key outcome memory.
package route

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/netip"

	"github.com/nugget/netcore/internal/outcomes"
)

// TCPEndpoint names a bare host:port to dial, either the ultimate
// destination or a fronting proxy.
type TCPEndpoint struct {
	Host string
	Port uint16
}

func (e TCPEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ProxyEndpoint wraps a TCPEndpoint to dial through before reaching Target.
type ProxyEndpoint struct {
	Proxy  TCPEndpoint
	Target TCPEndpoint
}

// DirectOrProxy is the inner leg of a TLS route: either a direct TCP dial
// or a dial routed through a fronting proxy (spec §3 "inner DirectOrProxy
// of TCP{host,port}").
type DirectOrProxy struct {
	Direct *TCPEndpoint
	Proxy  *ProxyEndpoint
}

// Endpoint returns the TCPEndpoint this connector should actually dial
// first (the proxy, if present; otherwise the direct target).
func (d DirectOrProxy) Endpoint() TCPEndpoint {
	if d.Proxy != nil {
		return d.Proxy.Proxy
	}
	if d.Direct != nil {
		return *d.Direct
	}
	return TCPEndpoint{}
}

// TLSFragment carries the TLS-layer parameters of a route.
type TLSFragment struct {
	RootCerts *x509.CertPool
	SNI       string
	ALPN      []string
	Inner     DirectOrProxy
}

// HTTPFragment carries the HTTP-layer parameters of a route.
type HTTPFragment struct {
	HostHeader        string
	PathPrefix        string
	FrontingProxyName string // empty if this route does not front
}

// WSFragment carries the WebSocket-layer parameters of a route.
type WSFragment struct {
	Path    string
	Headers map[string]string
}

// Unresolved is a fully specified, cloneable description of an intent to
// connect (spec §3 "Route (unresolved)"). It carries no hidden state: two
// Unresolved values built from the same fields behave identically.
type Unresolved struct {
	Transport TLSFragment
	HTTP      HTTPFragment
	WS        WSFragment
}

// Clone returns a copy whose ALPN slice, endpoint pointers and WS header
// map are duplicated, so a caller can mutate them without affecting the
// original. The RootCerts pool is shared with the original, not copied.
func (u Unresolved) Clone() Unresolved {
	out := u
	if u.Transport.ALPN != nil {
		out.Transport.ALPN = append([]string(nil), u.Transport.ALPN...)
	}
	if u.Transport.Inner.Direct != nil {
		d := *u.Transport.Inner.Direct
		out.Transport.Inner.Direct = &d
	}
	if u.Transport.Inner.Proxy != nil {
		p := *u.Transport.Inner.Proxy
		out.Transport.Inner.Proxy = &p
	}
	if u.WS.Headers != nil {
		out.WS.Headers = make(map[string]string, len(u.WS.Headers))
		for k, v := range u.WS.Headers {
			out.WS.Headers[k] = v
		}
	}
	return out
}

// TransportKey returns the outcome-memory key for this route's transport
// part (spec glossary "Transport part"): the subset that determines
// TCP/TLS identity, independent of HTTP path or WS config. Two routes
// sharing a transport key share one outcome slot.
func (u Unresolved) TransportKey() outcomes.TransportKey {
	ep := u.Transport.Inner.Endpoint()
	if u.Transport.Inner.Proxy != nil {
		return outcomes.TransportKey(fmt.Sprintf("proxy:%s->%s:sni=%s", ep, u.Transport.Inner.Proxy.Target, u.Transport.SNI))
	}
	return outcomes.TransportKey(fmt.Sprintf("direct:%s:sni=%s", ep, u.Transport.SNI))
}

// Resolved names a concrete address for one Unresolved route (spec §3
// "Resolved route"). A single Unresolved route can produce several
// Resolved routes through address fan-out.
type Resolved struct {
	Unresolved Unresolved
	Addr       netip.Addr
}

// Info is an opaque, log-safe description of which route a successful
// connection used (spec §3 "RouteInfo").
type Info struct {
	TransportKey outcomes.TransportKey
	HostHeader   string
	Path         string
	UsedProxy    bool
	Addr         netip.Addr
}

func (r Resolved) Info() Info {
	return Info{
		TransportKey: r.Unresolved.TransportKey(),
		HostHeader:   r.Unresolved.HTTP.HostHeader,
		Path:         r.Unresolved.WS.Path,
		UsedProxy:    r.Unresolved.Transport.Inner.Proxy != nil,
		Addr:         r.Addr,
	}
}

// LookupResult is the set of addresses a Resolver found for one hostname.
type LookupResult struct {
	Addrs []netip.Addr
}

// ErrLookupFailed is the distinguished resolver failure the classifier
// marks Fatal (spec §4.1 "A route whose resolver fails is treated as
// Intermittent unless the resolver signals a distinguished LookupFailed").
// Implementations of Resolver should wrap this with fmt.Errorf("%w: ...").
var ErrLookupFailed = fmt.Errorf("route: lookup failed")

// Resolver turns an Unresolved route's hostname into concrete addresses,
// producing one Resolved route per address (fan-out).
type Resolver interface {
	Resolve(ctx context.Context, u Unresolved) ([]Resolved, error)
}
