package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	"github.com/nugget/netcore/internal/route"
)

// TCPTLSConnector is the base Connector: dial TCP (optionally through a
// fronting proxy), then perform the TLS handshake (spec §2 "TCP ->
// optional proxy -> TLS").
type TCPTLSConnector struct {
	// Dialer builds the net.Dialer used for direct TCP connects. Defaults
	// to an unconfigured &net.Dialer{} if nil.
	Dialer *net.Dialer
}

// NewTCPTLSConnector returns a Connector using d (or a default dialer if
// d is nil).
func NewTCPTLSConnector(d *net.Dialer) *TCPTLSConnector {
	if d == nil {
		d = &net.Dialer{}
	}
	return &TCPTLSConnector{Dialer: d}
}

// ConnectOver implements Connector.
func (c *TCPTLSConnector) ConnectOver(ctx context.Context, r route.Resolved, logTag string) (Stream, error) {
	inner := r.Unresolved.Transport.Inner
	addrPort := fmt.Sprintf("%s:%d", r.Addr.String(), inner.Endpoint().Port)

	rawConn, err := c.dialRaw(ctx, inner, addrPort)
	if err != nil {
		return nil, fmt.Errorf("transport[%s]: dial: %w", logTag, err)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{
		RootCAs:    r.Unresolved.Transport.RootCerts,
		ServerName: r.Unresolved.Transport.SNI,
		NextProtos: r.Unresolved.Transport.ALPN,
	})

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("transport[%s]: tls handshake: %w", logTag, err)
	}

	return tlsConn, nil
}

func (c *TCPTLSConnector) dialRaw(ctx context.Context, inner route.DirectOrProxy, addrPort string) (net.Conn, error) {
	if inner.Proxy == nil {
		return c.Dialer.DialContext(ctx, "tcp", addrPort)
	}

	// Fronting proxy: dial the proxy, then have it CONNECT to the target.
	proxyAddr := inner.Proxy.Proxy.String()
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, c.Dialer)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer: %w", err)
	}

	type contextDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	if cd, ok := dialer.(contextDialer); ok {
		return cd.DialContext(ctx, "tcp", inner.Proxy.Target.String())
	}
	return dialer.Dial("tcp", inner.Proxy.Target.String())
}
