package coord

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/pool"
	"container-telemetry/loadgen/internal/replay"
)

const (
	DefaultStatsInterval = 5 * time.Second
	publishTimeout       = 5 * time.Second
)

// Registry records worker liveness. *store.WorkerRegistry implements it.
type Registry interface {
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	Live(ctx context.Context) ([]string, error)
}

type WorkerConfig struct {
	ID            string
	StatsInterval time.Duration
}

// Worker builds its pool once, then executes start and stop commands from
// the master until shutdown.
type Worker struct {
	cfg      WorkerConfig
	bus      Bus
	shared   *pool.Shared
	sender   replay.Sender
	registry Registry
	logger   *zap.Logger
}

func NewWorker(cfg WorkerConfig, bus Bus, shared *pool.Shared, sender replay.Sender, registry Registry, logger *zap.Logger) *Worker {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:      cfg,
		bus:      bus,
		shared:   shared,
		sender:   sender,
		registry: registry,
		logger:   logger,
	}
}

// Run returns nil on shutdown or when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before announcing so no command after hello is missed
	cmds, err := w.bus.SubscribeCommands(ctx)
	if err != nil {
		return fmt.Errorf("coord: worker %s: %w", w.cfg.ID, err)
	}
	w.publish(ctx, Report{Type: ReportHello})

	if w.registry != nil {
		go w.heartbeat(ctx)
	}

	p, err := w.shared.Get(ctx)
	if err != nil {
		w.publish(ctx, Report{Type: ReportFailed, Error: err.Error()})
		return fmt.Errorf("coord: worker %s: build pool: %w", w.cfg.ID, err)
	}
	w.logger.Info("pool ready", zap.Int("size", p.Len()))
	w.publish(ctx, Report{Type: ReportPoolReady, PoolSize: p.Len()})

	var (
		runCancel context.CancelFunc
		runDone   chan struct{}
	)
	defer func() {
		if runCancel != nil {
			runCancel()
			<-runDone
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-runDone:
			runCancel()
			runCancel, runDone = nil, nil

		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			switch cmd.Type {
			case CommandStart:
				if runDone != nil {
					w.logger.Warn("ignoring start, run in progress", zap.String("run_id", cmd.RunID))
					continue
				}
				var runCtx context.Context
				runCtx, runCancel = context.WithCancel(ctx)
				runDone = make(chan struct{})
				go w.run(runCtx, p, cmd, runDone)

			case CommandStop:
				if runCancel != nil {
					w.logger.Info("stopping run", zap.String("run_id", cmd.RunID))
					runCancel()
				}

			case CommandShutdown:
				w.logger.Info("shutdown requested")
				return nil
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, p *pool.Pool, cmd Command, done chan<- struct{}) {
	defer close(done)

	logger := w.logger.With(zap.String("run_id", cmd.RunID))
	runner := replay.NewRunner(p, w.sender, cmd.RunnerConfig(), logger)

	stopStats := make(chan struct{})
	go func() {
		t := time.NewTicker(w.cfg.StatsInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.publish(ctx, Report{Type: ReportStats, RunID: cmd.RunID, PoolSize: p.Len(), Stats: runner.Snapshot()})
			case <-stopStats:
				return
			}
		}
	}()

	snap, err := runner.Run(ctx)
	close(stopStats)

	r := Report{Type: ReportDone, RunID: cmd.RunID, PoolSize: p.Len(), Stats: snap}
	if err != nil {
		r.Type = ReportFailed
		r.Error = err.Error()
	}
	// the run context may already be cancelled by a stop command
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	w.publish(pubCtx, r)
}

func (w *Worker) heartbeat(ctx context.Context) {
	ttl := 3 * w.cfg.StatsInterval
	t := time.NewTicker(w.cfg.StatsInterval)
	defer t.Stop()
	for {
		if err := w.registry.Heartbeat(ctx, w.cfg.ID, ttl); err != nil && ctx.Err() == nil {
			w.logger.Warn("heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (w *Worker) publish(ctx context.Context, r Report) {
	r.WorkerID = w.cfg.ID
	r.SentAt = time.Now().UTC()
	if err := w.bus.PublishReport(ctx, r); err != nil && ctx.Err() == nil {
		w.logger.Error("publish report failed", zap.String("type", string(r.Type)), zap.Error(err))
	}
}
