package ifacemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/netcore/internal/events"
	"github.com/nugget/netcore/internal/outcomes"
	"github.com/nugget/netcore/internal/racer"
	"github.com/nugget/netcore/internal/route"
)

func TestMonitor_PublishesOnFingerprintChange(t *testing.T) {
	t.Parallel()
	bus := events.New()
	sub := bus.Subscribe(4)

	var current atomic.Value
	current.Store("fp-1")
	fp := func() (string, error) { return current.Load().(string), nil }

	mon := NewMonitor(fp, bus, 5*time.Millisecond)
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mon.Stop()

	select {
	case <-sub:
		t.Fatal("no change yet, should not have published")
	case <-time.After(20 * time.Millisecond):
	}

	current.Store("fp-2")
	mon.Notify()

	select {
	case ev := <-sub:
		if ev.Fingerprint != "fp-2" {
			t.Errorf("got fingerprint %q, want fp-2", ev.Fingerprint)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

type stubRacer struct {
	results chan struct {
		res *racer.Result
		err error
	}
}

func (s *stubRacer) Connect(ctx context.Context, routes []route.Unresolved, logTag string) (*racer.Result, []outcomes.Update, error) {
	select {
	case r := <-s.results:
		return r.res, nil, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func TestOrchestrator_InterfaceChangeTriggersReplan(t *testing.T) {
	t.Parallel()
	bus := events.New()
	registry := outcomes.NewRegistry(outcomes.Params{MaxCount: 5, MaxDelay: time.Second})
	racerStub := &stubRacer{results: make(chan struct {
		res *racer.Result
		err error
	})}
	mon := NewMonitor(func() (string, error) { return "fp", nil }, bus, time.Hour)
	if err := mon.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mon.Stop()

	orch := NewOrchestrator(racerStub, mon, registry, time.Second, 3)

	type outcome struct {
		res *racer.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Connect(context.Background(), []route.Unresolved{{}}, "t")
		done <- outcome{res, err}
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Publish(events.ChangeEvent{Timestamp: time.Now(), Fingerprint: "fp2"})

	time.Sleep(10 * time.Millisecond)
	racerStub.results <- struct {
		res *racer.Result
		err error
	}{res: &racer.Result{}, err: nil}

	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("Connect error: %v", o.err)
		}
		if o.res == nil {
			t.Fatal("expected a successful result after re-plan")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
}

func TestOrchestrator_OrdinaryFailureIsNotReplanned(t *testing.T) {
	t.Parallel()
	bus := events.New()
	registry := outcomes.NewRegistry(outcomes.Params{MaxCount: 5, MaxDelay: time.Second})
	sentinel := errors.New("boom")
	racerStub := &stubRacer{results: make(chan struct {
		res *racer.Result
		err error
	}, 1)}
	racerStub.results <- struct {
		res *racer.Result
		err error
	}{err: sentinel}

	mon := NewMonitor(func() (string, error) { return "fp", nil }, bus, time.Hour)
	if err := mon.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mon.Stop()

	orch := NewOrchestrator(racerStub, mon, registry, 10*time.Millisecond, 3)
	_, err := orch.Connect(context.Background(), []route.Unresolved{{}}, "t")
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel error to bubble up unchanged", err)
	}
}
