// Package main is the netconnect CLI: a small wrapper that loads a
// Config, races the configured routes against a target host, and on
// success drives RegistrationService.CreateSession for a phone number,
// printing the resulting session JSON to stdout (spec §6 "CLI surface").
// Flag-and-config wiring follows this codebase's cmd/thane/main.go idiom.
package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/nugget/netcore/internal/buildinfo"
	"github.com/nugget/netcore/internal/chat"
	"github.com/nugget/netcore/internal/config"
	"github.com/nugget/netcore/internal/connectchat"
	"github.com/nugget/netcore/internal/events"
	"github.com/nugget/netcore/internal/ifacemon"
	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/racer"
	"github.com/nugget/netcore/internal/registration"
	"github.com/nugget/netcore/internal/route"
	"github.com/nugget/netcore/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	number := flag.String("number", "", "E.164 phone number to register")
	host := flag.String("host", "", "target host:port to race routes against")
	logLevel := flag.String("log-level", "", "log level override (trace, debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfgPath, err := config.FindConfig(*configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if level != "" {
		lvl, err := config.ParseLogLevel(level)
		if err != nil {
			logger.Error("invalid log level", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       lvl,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("netconnect starting", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	if *host == "" || *number == "" {
		fmt.Fprintln(os.Stderr, "usage: netconnect --host <host:port> --number <+E164> [--config path] [--log-level level]")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.ConnectTimeout)
	defer cancel()

	svc, err := buildRegistrationService(cfg, *host, logger)
	if err != nil {
		logger.Error("failed to build registration service", "error", err)
		os.Exit(1)
	}

	if err := svc.CreateSession(ctx, registration.CreateSessionRequest{Number: *number}); err != nil {
		logger.Error("create session failed", "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(map[string]any{
		"session_id": svc.SessionID(),
		"session":    svc.SessionState(),
	}, "", "  ")
	if err != nil {
		logger.Error("failed to encode session", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// buildRegistrationService wires together the route racer, interface
// monitor, and ChatConnection dialer into a single registration.Service
// (spec §2 data-flow diagram, leaves first).
func buildRegistrationService(cfg *config.Config, host string, logger *slog.Logger) (*registration.Service, error) {
	routes, err := directRoutes(host)
	if err != nil {
		return nil, err
	}

	registry := outcomes.NewRegistry(outcomes.Params{
		AgeCutoff:            cfg.ConnectParams.AgeCutoff,
		CooldownGrowthFactor: cfg.ConnectParams.CooldownGrowthFactor,
		CountGrowthFactor:    cfg.ConnectParams.CountGrowthFactor,
		MaxCount:             cfg.ConnectParams.MaxCount,
		MaxDelay:             cfg.ConnectParams.MaxDelay,
	})

	base := transport.NewTCPTLSConnector(nil)
	throttled := transport.NewThrottlingConnector(base, 1)
	preconnecting := transport.NewPreconnectingConnector(throttled, cfg.Preconnect.Lifetime)

	r := racer.New(route.NewDNSResolver(), preconnecting, registry, classifyTransportErr, cfg.ConnectTimeout*2)

	bus := events.New()
	mon := ifacemon.NewMonitor(ifacemon.SystemFingerprint, bus, cfg.NetworkInterfacePollInterval)
	if err := mon.Start(context.Background()); err != nil {
		logger.Warn("interface monitor disabled", "error", err)
	}
	orch := ifacemon.NewOrchestrator(r, mon, registry, cfg.PostRouteChangeConnectTimeout, 3)

	connect := &connectchat.Default{
		Connector: orch,
		Routes:    routes,
		LogTag:    "netconnect",
		Header:    http.Header{"User-Agent": []string{buildinfo.UserAgent()}},
		Timers: chat.Timers{
			IdleTimeout:       cfg.WS.IdleTimeout,
			PingIdleTimeout:   cfg.WS.PingIdleTimeout,
			DisconnectTimeout: cfg.WS.DisconnectTimeout,
		},
		Logger: logger,
	}

	return registration.New(connect, logger), nil
}

// classifyTransportErr is the racer.ClassifyFunc for this CLI: anything
// transport.IsRetryable deems transient is Intermittent, everything else
// (including transport.ErrClientAbort) is Fatal (spec §4.1 step 4).
func classifyTransportErr(err error) racer.Classification {
	if transport.IsRetryable(err) {
		return racer.Classification{Kind: racer.Intermittent}
	}
	return racer.Classification{Kind: racer.Fatal, Err: err}
}

// directRoutes builds a single direct-TLS, system-CA route against host
// for the "netconnect" CLI demo (spec §6 CLI surface). Real deployments
// supply a richer, censorship-resistant route set (fronted/proxy
// fallbacks); this CLI exists to exercise the stack end to end, not to
// ship production route tables.
func directRoutes(host string) ([]route.Unresolved, error) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return nil, fmt.Errorf("netconnect: --host must be host:port: %w", err)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("netconnect: invalid port %q: %w", p, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	return []route.Unresolved{{
		Transport: route.TLSFragment{
			RootCerts: pool,
			SNI:       h,
			ALPN:      []string{"http/1.1"},
			Inner:     route.DirectOrProxy{Direct: &route.TCPEndpoint{Host: h, Port: uint16(port)}},
		},
		HTTP: route.HTTPFragment{HostHeader: h, PathPrefix: "/"},
		WS:   route.WSFragment{Path: "/v1/websocket"},
	}}, nil
}
