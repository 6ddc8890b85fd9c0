package coord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"container-telemetry/loadgen/internal/pool"
	"container-telemetry/loadgen/internal/synth"
)

type countingSender struct {
	n         atomic.Int64
	oversized atomic.Int64
}

func (s *countingSender) Send(ctx context.Context, payload []byte) error {
	if len(payload) >= pool.DefaultMaxPayloadBytes {
		s.oversized.Add(1)
	}
	s.n.Add(1)
	return nil
}

func sharedPool(size, ceiling int, seed uint64) *pool.Shared {
	cfg := pool.DefaultConfig()
	cfg.TargetSize = size
	cfg.MaxPayloadBytes = ceiling
	cfg.MaxConsecutiveRejections = 200
	return pool.NewShared(pool.NewBuilder(cfg, synth.NewSeeded(seed, synth.DefaultRanges()), nil))
}

type fakeRegistry struct {
	mu    sync.Mutex
	beats map[string]int
}

func (r *fakeRegistry) Heartbeat(_ context.Context, id string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats[id]++
	return nil
}

func (r *fakeRegistry) Live(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.beats))
	for id := range r.beats {
		ids = append(ids, id)
	}
	return ids, nil
}

type inProcess struct {
	done chan error
}

func (p *inProcess) Wait() error { return <-p.done }

// inProcessLauncher runs workers as goroutines on a shared in-memory bus.
type inProcessLauncher struct {
	bus      Bus
	sender   *countingSender
	registry Registry
	ceiling  func(id string) int
}

func (l *inProcessLauncher) Launch(ctx context.Context, id string) (Process, error) {
	ceiling := pool.DefaultMaxPayloadBytes
	if l.ceiling != nil {
		ceiling = l.ceiling(id)
	}
	w := NewWorker(
		WorkerConfig{ID: id, StatsInterval: 10 * time.Millisecond},
		l.bus,
		sharedPool(20, ceiling, uint64(len(id))),
		l.sender,
		l.registry,
		nil,
	)
	p := &inProcess{done: make(chan error, 1)}
	go func() { p.done <- w.Run(ctx) }()
	return p, nil
}

func TestSupervisorRunsAllWorkers(t *testing.T) {
	bus := NewInMemoryBus()
	sender := &countingSender{}
	registry := &fakeRegistry{beats: map[string]int{}}
	launcher := &inProcessLauncher{bus: bus, sender: sender, registry: registry}

	sup := NewSupervisor(SupervisorConfig{
		Workers:          3,
		ReadyTimeout:     5 * time.Second,
		ProgressInterval: 5 * time.Millisecond,
		Run:              Command{Users: 2, MaxRequests: 50},
	}, bus, launcher, registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := sup.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.Requests != 150 || snap.Successes != 150 {
		t.Fatalf("merged stats = %+v", snap)
	}
	if sender.n.Load() != 150 {
		t.Fatalf("sent %d, want 150", sender.n.Load())
	}
	if sender.oversized.Load() != 0 {
		t.Fatalf("%d oversized payloads sent", sender.oversized.Load())
	}
	if live, _ := registry.Live(ctx); len(live) != 3 {
		t.Fatalf("live workers = %v", live)
	}
}

func TestSupervisorReportsPoolFailure(t *testing.T) {
	bus := NewInMemoryBus()
	launcher := &inProcessLauncher{
		bus:    bus,
		sender: &countingSender{},
		ceiling: func(id string) int {
			if id == "worker-2" {
				return 10
			}
			return pool.DefaultMaxPayloadBytes
		},
	}

	sup := NewSupervisor(SupervisorConfig{
		Workers:      2,
		ReadyTimeout: 5 * time.Second,
		Run:          Command{Users: 1, MaxRequests: 5},
	}, bus, launcher, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := sup.Run(ctx)
	if !errors.Is(err, ErrWorkerFailed) {
		t.Fatalf("err = %v, want ErrWorkerFailed", err)
	}
}

func TestSessionStopEndsUnboundedRun(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := NewMaster(bus, nil).Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	sender := &countingSender{}
	w := NewWorker(WorkerConfig{ID: "w1"}, bus, sharedPool(10, pool.DefaultMaxPayloadBytes, 1), sender, nil, nil)
	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Run(ctx) }()

	if _, err := session.AwaitReady(ctx, 1); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	runID, err := session.Start(ctx, Command{Users: 1, WaitMin: time.Millisecond, WaitMax: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for sender.n.Load() < 5 {
		time.Sleep(time.Millisecond)
	}
	if err := session.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap, err := session.AwaitDone(ctx, runID)
	if err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
	if snap.Requests < 5 {
		t.Fatalf("Requests = %d", snap.Requests)
	}

	if err := session.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-workerErr:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("worker did not exit on shutdown")
	}
}

func TestWorkerIgnoresSecondStart(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := NewMaster(bus, nil).Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sender := &countingSender{}
	w := NewWorker(WorkerConfig{ID: "w1"}, bus, sharedPool(10, pool.DefaultMaxPayloadBytes, 2), sender, nil, nil)
	go w.Run(ctx)

	if _, err := session.AwaitReady(ctx, 1); err != nil {
		t.Fatal(err)
	}
	runID, err := session.Start(ctx, Command{Users: 1, WaitMin: 20 * time.Millisecond, WaitMax: 20 * time.Millisecond, MaxRequests: 5})
	if err != nil {
		t.Fatal(err)
	}
	// a duplicate start for the same run must not double the load
	if err := bus.PublishCommand(ctx, Command{Type: CommandStart, RunID: runID, Users: 1, MaxRequests: 5}); err != nil {
		t.Fatal(err)
	}

	snap, err := session.AwaitDone(ctx, runID)
	if err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
	if snap.Requests != 5 || sender.n.Load() != 5 {
		t.Fatalf("requests = %d, sent = %d", snap.Requests, sender.n.Load())
	}
}

func TestInMemoryBusSubscriptionLifetime(t *testing.T) {
	bus := NewInMemoryBus()

	// publishing with no subscriber is not an error
	if err := bus.PublishReport(context.Background(), Report{Type: ReportHello}); err != nil {
		t.Fatalf("PublishReport: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.SubscribeReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.PublishReport(context.Background(), Report{Type: ReportStats, WorkerID: "a"}); err != nil {
		t.Fatal(err)
	}
	if r := <-ch; r.WorkerID != "a" {
		t.Fatalf("report = %+v", r)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected report after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}

	bus.Close()
	if _, err := bus.SubscribeCommands(context.Background()); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("err = %v, want ErrBusClosed", err)
	}
}
