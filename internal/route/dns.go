package route

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// DNSTimeout is the independent DNS strategy timeout (spec §5 "DNS
// strategy timeout is independent (suggested 7 s)"). It bounds a single
// Resolve call separately from the overall connect_timeout.
const DNSTimeout = 7 * time.Second

// DNSResolver resolves an Unresolved route's direct or proxy host via the
// standard library resolver, fanning out to one Resolved route per
// returned address (spec §3 "address fan-out").
type DNSResolver struct {
	// Lookup defaults to (&net.Resolver{}).LookupNetIP if nil, overridable
	// for tests.
	Lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// NewDNSResolver returns a Resolver backed by the standard library.
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{}
}

func (d *DNSResolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	fn := d.Lookup
	if fn == nil {
		fn = (&net.Resolver{}).LookupNetIP
	}
	return fn(ctx, "ip", host)
}

// Resolve implements Resolver.
func (d *DNSResolver) Resolve(ctx context.Context, u Unresolved) ([]Resolved, error) {
	ep := u.Transport.Inner.Endpoint()

	ctx, cancel := context.WithTimeout(ctx, DNSTimeout)
	defer cancel()

	addrs, err := d.lookup(ctx, ep.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLookupFailed, ep.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s: no addresses", ErrLookupFailed, ep.Host)
	}

	out := make([]Resolved, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Resolved{Unresolved: u, Addr: a})
	}
	return out, nil
}
