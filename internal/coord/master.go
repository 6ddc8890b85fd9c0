package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/replay"
)

var ErrWorkerFailed = errors.New("coord: worker failed")

type Master struct {
	bus    Bus
	logger *zap.Logger
}

func NewMaster(bus Bus, logger *zap.Logger) *Master {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Master{bus: bus, logger: logger}
}

// Listen subscribes to worker reports. Call it before any worker starts:
// reports published earlier are lost.
func (m *Master) Listen(ctx context.Context) (*Session, error) {
	reports, err := m.bus.SubscribeReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("coord: master: %w", err)
	}
	s := &Session{
		bus:     m.bus,
		logger:  m.logger,
		workers: make(map[string]*workerState),
		changed: make(chan struct{}),
	}
	go s.consume(reports)
	return s, nil
}

type workerState struct {
	ready    bool
	poolSize int
	failed   string
	runID    string
	finished bool
	stats    replay.Snapshot
}

// Session tracks worker state as reports arrive.
type Session struct {
	bus    Bus
	logger *zap.Logger

	mu      sync.Mutex
	workers map[string]*workerState
	runID   string
	changed chan struct{}
}

func (s *Session) consume(reports <-chan Report) {
	for r := range reports {
		s.apply(r)
	}
}

func (s *Session) apply(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[r.WorkerID]
	if !ok {
		w = &workerState{}
		s.workers[r.WorkerID] = w
	}

	switch r.Type {
	case ReportHello:
		s.logger.Info("worker connected", zap.String("worker", r.WorkerID))
	case ReportPoolReady:
		w.ready = true
		w.poolSize = r.PoolSize
		s.logger.Info("worker pool ready", zap.String("worker", r.WorkerID), zap.Int("pool_size", r.PoolSize))
	case ReportStats:
		if r.RunID == s.runID {
			w.stats = r.Stats
		}
	case ReportDone:
		if r.RunID == s.runID {
			w.stats = r.Stats
			w.finished = true
			s.logger.Info("worker finished",
				zap.String("worker", r.WorkerID),
				zap.Int64("requests", r.Stats.Requests),
				zap.Int64("failures", r.Stats.Failures),
			)
		}
	case ReportFailed:
		w.failed = r.Error
		if r.RunID != "" && r.RunID == s.runID {
			w.finished = true
		}
		s.logger.Error("worker failed", zap.String("worker", r.WorkerID), zap.String("error", r.Error))
	}

	close(s.changed)
	s.changed = make(chan struct{})
}

// wait blocks until cond, evaluated under the lock, returns true or an error.
func (s *Session) wait(ctx context.Context, cond func() (bool, error)) error {
	for {
		s.mu.Lock()
		ok, err := cond()
		changed := s.changed
		s.mu.Unlock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// AwaitReady waits for n workers to report a built pool and returns their ids.
func (s *Session) AwaitReady(ctx context.Context, n int) ([]string, error) {
	var ids []string
	err := s.wait(ctx, func() (bool, error) {
		ids = ids[:0]
		for id, w := range s.workers {
			if w.failed != "" && !w.ready {
				return false, fmt.Errorf("%w: %s: %s", ErrWorkerFailed, id, w.failed)
			}
			if w.ready {
				ids = append(ids, id)
			}
		}
		return len(ids) >= n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("coord: await %d ready workers: %w", n, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Start broadcasts a start command under a new run id.
func (s *Session) Start(ctx context.Context, cmd Command) (string, error) {
	cmd.Type = CommandStart
	if cmd.RunID == "" {
		cmd.RunID = uuid.NewString()
	}
	cmd.IssuedAt = time.Now().UTC()

	s.mu.Lock()
	s.runID = cmd.RunID
	for _, w := range s.workers {
		w.finished = false
		w.stats = replay.Snapshot{}
	}
	s.mu.Unlock()

	if err := s.bus.PublishCommand(ctx, cmd); err != nil {
		return "", fmt.Errorf("coord: publish start: %w", err)
	}
	s.logger.Info("run started",
		zap.String("run_id", cmd.RunID),
		zap.Int("users_per_worker", cmd.Users),
		zap.Duration("duration", cmd.Duration),
	)
	return cmd.RunID, nil
}

func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if err := s.bus.PublishCommand(ctx, Command{Type: CommandStop, RunID: runID, IssuedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("coord: publish stop: %w", err)
	}
	return nil
}

func (s *Session) Shutdown(ctx context.Context) error {
	if err := s.bus.PublishCommand(ctx, Command{Type: CommandShutdown, IssuedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("coord: publish shutdown: %w", err)
	}
	return nil
}

// AwaitDone waits until every ready worker has finished runID and returns the
// merged stats.
func (s *Session) AwaitDone(ctx context.Context, runID string) (replay.Snapshot, error) {
	var failed []string
	err := s.wait(ctx, func() (bool, error) {
		failed = failed[:0]
		for id, w := range s.workers {
			if !w.ready {
				continue
			}
			if !w.finished {
				return false, nil
			}
			if w.failed != "" {
				failed = append(failed, id)
			}
		}
		return true, nil
	})

	snap := s.Latest()
	if err != nil {
		return snap, fmt.Errorf("coord: await run %s: %w", runID, err)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return snap, fmt.Errorf("%w: run %s: %v", ErrWorkerFailed, runID, failed)
	}
	return snap, nil
}

// Latest merges the most recent stats of every worker for the current run.
func (s *Session) Latest() replay.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]replay.Snapshot, 0, len(s.workers))
	for _, w := range s.workers {
		snaps = append(snaps, w.stats)
	}
	return replay.Merge(snaps...)
}
