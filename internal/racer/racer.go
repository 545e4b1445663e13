// Package racer implements the route racing engine (spec §4.1): given a
// set of candidate routes, try them concurrently under a staggered
// schedule informed by outcome memory, and surface the first success or a
// classified terminal failure.
//
// The scheduling idiom is adapted from this codebase's XTLS-inspired race
// pattern (atomic race-state + a single winner-notification channel),
// generalized from a two-way HTTP/2-vs-HTTP/3 race to an N-route race with
// address fan-out and per-transport outcome memory.
package racer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/route"
	"github.com/nugget/netcore/internal/transport"
)

// ClassKind is the three-way bucket the classifier sorts a connect error
// into (spec §4.1 step 4).
type ClassKind int

const (
	// Intermittent records a failure outcome and continues racing.
	Intermittent ClassKind = iota
	// Fatal cancels in-flight attempts and surfaces FatalConnectError.
	Fatal
	// RetryAt behaves like Intermittent but also constrains future
	// scheduling for that transport to not start before the given time.
	RetryAt
)

// Classification is the result of applying ClassifyFunc to a connect
// error.
type Classification struct {
	Kind    ClassKind
	Err     error     // meaningful when Kind == Fatal
	RetryAt time.Time // meaningful when Kind == RetryAt
}

// ClassifyFunc sorts a raw connect error into one of Intermittent, Fatal,
// or RetryAt (spec §4.1).
type ClassifyFunc func(err error) Classification

// DelayPolicy is satisfied by *outcomes.Registry; abstracted here so tests
// can supply a deterministic schedule.
type DelayPolicy interface {
	Delay(key outcomes.TransportKey, now time.Time) time.Duration
}

// Sentinel terminal errors (spec §4.1 step 5, §7).
var (
	ErrNoResolvedRoutes = errors.New("racer: no resolved routes")
	ErrAllAttemptsFailed = errors.New("racer: all attempts failed")
	ErrTimeout           = errors.New("racer: timeout")
)

// FatalConnectError wraps a connect error the classifier marked Fatal
// (spec §7 "Fatal connect errors bubble up wrapped in FatalConnect").
type FatalConnectError struct{ Err error }

func (e *FatalConnectError) Error() string { return fmt.Sprintf("racer: fatal connect error: %v", e.Err) }
func (e *FatalConnectError) Unwrap() error  { return e.Err }

// Result is the successful outcome of a race: a live stream and a
// log-safe description of which route it used (spec §3 "RouteInfo").
type Result struct {
	Stream transport.Stream
	Info   route.Info
}

// Racer races a set of candidate routes to produce the first live
// connection (spec §4.1).
type Racer struct {
	Resolver       route.Resolver
	Connector      transport.Connector
	Delays         DelayPolicy
	Classify       ClassifyFunc
	OverallTimeout time.Duration // whole-attempt ceiling (spec §3 "~60s whole-attempt timeout")
}

// New constructs a Racer. overallTimeout defaults to 60s if zero.
func New(resolver route.Resolver, connector transport.Connector, delays DelayPolicy, classify ClassifyFunc, overallTimeout time.Duration) *Racer {
	if overallTimeout <= 0 {
		overallTimeout = 60 * time.Second
	}
	return &Racer{
		Resolver:       resolver,
		Connector:      connector,
		Delays:         delays,
		Classify:       classify,
		OverallTimeout: overallTimeout,
	}
}

type scheduled struct {
	idx   int
	u     route.Unresolved
	delay time.Duration
}

type attemptEvent struct {
	idx int
	key outcomes.TransportKey
	res *Result
	err error
}

// Connect implements the public contract of spec §4.1. It materializes
// routes (assumed already finite), schedules each by the configured
// DelayPolicy, races them with pipelined overlap, and returns either a
// live Result or a terminal error, plus the OutcomeUpdates the caller
// must apply to the registry.
func (r *Racer) Connect(ctx context.Context, routes []route.Unresolved, logTag string) (*Result, []outcomes.Update, error) {
	if len(routes) == 0 {
		return nil, nil, ErrNoResolvedRoutes
	}

	now := time.Now()
	schedule := make([]scheduled, len(routes))
	for i, u := range routes {
		schedule[i] = scheduled{idx: i, u: u, delay: r.Delays.Delay(u.TransportKey(), now)}
	}
	sort.SliceStable(schedule, func(i, j int) bool {
		if schedule[i].delay != schedule[j].delay {
			return schedule[i].delay < schedule[j].delay
		}
		return schedule[i].idx < schedule[j].idx // tie-break: enumeration order
	})

	raceCtx, cancel := context.WithTimeout(ctx, r.OverallTimeout)
	defer cancel()

	events := make(chan attemptEvent, len(schedule))
	var wg sync.WaitGroup
	for _, s := range schedule {
		wg.Add(1)
		go r.runAttempt(raceCtx, s, logTag, events, &wg)
	}
	go func() { wg.Wait(); close(events) }()

	var updates []outcomes.Update
	remaining := len(schedule)

	for {
		select {
		case <-raceCtx.Done():
			cancel()
			if errors.Is(raceCtx.Err(), context.DeadlineExceeded) {
				return nil, updates, ErrTimeout
			}
			return nil, updates, raceCtx.Err()

		case ev, ok := <-events:
			if !ok {
				// All attempts finished without a channel close race; only
				// reached if remaining hit 0 without us observing it below.
				return nil, updates, ErrAllAttemptsFailed
			}

			if ev.err == nil {
				cancel() // win: cancel every other in-flight attempt
				return ev.res, updates, nil
			}

			remaining--
			class := r.Classify(ev.err)
			switch class.Kind {
			case Fatal:
				cancel()
				return nil, updates, &FatalConnectError{Err: class.Err}
			case RetryAt:
				updates = append(updates, outcomes.Update{Key: ev.key, Failed: true, Timestamp: now, RetryAt: class.RetryAt})
			default: // Intermittent
				updates = append(updates, outcomes.Update{Key: ev.key, Failed: true, Timestamp: now})
			}

			if remaining == 0 {
				return nil, updates, ErrAllAttemptsFailed
			}
		}
	}
}

// runAttempt waits out its scheduled delay, resolves addresses, and races
// the fan-out of addresses for one route, emitting exactly one
// attemptEvent.
func (r *Racer) runAttempt(ctx context.Context, s scheduled, logTag string, events chan<- attemptEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	key := s.u.TransportKey()

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return // cancelled before the schedule even arrived; no event, no outcome
		case <-t.C:
		}
	}

	resolved, err := r.Resolver.Resolve(ctx, s.u)
	if err != nil {
		select {
		case events <- attemptEvent{idx: s.idx, key: key, err: err}:
		case <-ctx.Done():
		}
		return
	}

	// Address fan-out (spec §4.1 "a single unresolved route producing N
	// addresses counts as N sub-attempts sharing one outcome slot; the
	// slot records failure only if all addresses fail").
	type addrResult struct {
		res *Result
		err error
	}
	results := make(chan addrResult, len(resolved))
	var addrWg sync.WaitGroup
	for _, res := range resolved {
		addrWg.Add(1)
		go func(res route.Resolved) {
			defer addrWg.Done()
			stream, err := r.Connector.ConnectOver(ctx, res, logTag)
			if err != nil {
				results <- addrResult{err: err}
				return
			}
			results <- addrResult{res: &Result{Stream: stream, Info: res.Info()}}
		}(res)
	}
	go func() { addrWg.Wait(); close(results) }()

	var lastErr error
	for ar := range results {
		if ar.err == nil {
			select {
			case events <- attemptEvent{idx: s.idx, key: key, res: ar.res}:
			case <-ctx.Done():
			}
			return
		}
		lastErr = ar.err
	}

	if lastErr == nil {
		lastErr = errors.New("racer: address fan-out produced no addresses")
	}
	select {
	case events <- attemptEvent{idx: s.idx, key: key, err: lastErr}:
	case <-ctx.Done():
	}
}
