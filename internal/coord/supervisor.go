package coord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"container-telemetry/loadgen/internal/replay"
)

const (
	workerExitGrace = 2 * time.Second
	shutdownGrace   = 30 * time.Second
)

// Process is a launched worker.
type Process interface {
	Wait() error
}

// Launcher starts one worker. The worker must exit when ctx is cancelled.
type Launcher interface {
	Launch(ctx context.Context, workerID string) (Process, error)
}

// ExecLauncher runs workers as child processes of the same binary.
type ExecLauncher struct {
	Path string
	// Args follow the worker subcommand, e.g. global flags.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	// StopGrace is how long a worker gets after SIGINT before it is killed.
	StopGrace time.Duration
}

func NewExecLauncher(args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("coord: locate executable: %w", err)
	}
	return &ExecLauncher{
		Path:      path,
		Args:      args,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		StopGrace: 10 * time.Second,
	}, nil
}

func (l *ExecLauncher) Launch(ctx context.Context, workerID string) (Process, error) {
	args := append([]string{"worker", "--id", workerID}, l.Args...)
	cmd := exec.CommandContext(ctx, l.Path, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.StopGrace
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("coord: start worker %s: %w", workerID, err)
	}
	return cmd, nil
}

type SupervisorConfig struct {
	Workers int
	// Stagger is the pause between worker launches.
	Stagger      time.Duration
	ReadyTimeout time.Duration
	// ProgressInterval controls how often merged stats are logged; 0 disables.
	ProgressInterval time.Duration
	// Run is the per-worker load; Type and RunID are filled in.
	Run Command
}

// Supervisor launches the workers, drives a single run through the master
// session and shuts everything down.
type Supervisor struct {
	cfg      SupervisorConfig
	master   *Master
	launcher Launcher
	registry Registry
	logger   *zap.Logger
}

func NewSupervisor(cfg SupervisorConfig, bus Bus, launcher Launcher, registry Registry, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Minute
	}
	return &Supervisor{
		cfg:      cfg,
		master:   NewMaster(bus, logger),
		launcher: launcher,
		registry: registry,
		logger:   logger,
	}
}

func (s *Supervisor) Run(ctx context.Context) (replay.Snapshot, error) {
	if s.cfg.Workers <= 0 {
		return replay.Snapshot{}, fmt.Errorf("coord: workers must be positive, got %d", s.cfg.Workers)
	}

	session, err := s.master.Listen(ctx)
	if err != nil {
		return replay.Snapshot{}, err
	}

	procCtx, killWorkers := context.WithCancel(ctx)
	defer killWorkers()
	// a worker that dies without reporting aborts the run after a grace period
	driveCtx, abort := context.WithCancelCause(procCtx)
	defer abort(nil)

	var g errgroup.Group
	for i := 0; i < s.cfg.Workers; i++ {
		if i > 0 && !sleep(driveCtx, s.cfg.Stagger) {
			break
		}
		id := fmt.Sprintf("worker-%d", i+1)
		proc, err := s.launcher.Launch(procCtx, id)
		if err != nil {
			killWorkers()
			_ = g.Wait()
			return replay.Snapshot{}, err
		}
		s.logger.Info("worker launched", zap.String("worker", id))
		g.Go(func() error {
			if err := proc.Wait(); err != nil {
				err = fmt.Errorf("coord: %s exited: %w", id, err)
				time.AfterFunc(workerExitGrace, func() { abort(err) })
				return err
			}
			return nil
		})
	}

	snap, runErr := s.drive(driveCtx, session)
	if runErr != nil && ctx.Err() == nil {
		if cause := context.Cause(driveCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			runErr = cause
		}
	}

	// stop and release workers even if ctx is already cancelled
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if runErr != nil {
		if err := session.Stop(shutdownCtx); err != nil {
			s.logger.Warn("stop broadcast failed", zap.Error(err))
		}
	}
	if err := session.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown broadcast failed", zap.Error(err))
	}
	kill := time.AfterFunc(shutdownGrace, killWorkers)
	defer kill.Stop()

	if err := g.Wait(); err != nil && runErr == nil && ctx.Err() == nil {
		runErr = err
	}
	return snap, runErr
}

func (s *Supervisor) drive(ctx context.Context, session *Session) (replay.Snapshot, error) {
	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	ids, err := session.AwaitReady(readyCtx, s.cfg.Workers)
	cancel()
	if err != nil {
		return replay.Snapshot{}, err
	}
	s.logger.Info("all workers ready", zap.Strings("workers", ids))

	if s.registry != nil {
		if live, err := s.registry.Live(ctx); err == nil {
			s.logger.Info("live workers", zap.Int("count", len(live)))
		} else {
			s.logger.Warn("registry lookup failed", zap.Error(err))
		}
	}

	runID, err := session.Start(ctx, s.cfg.Run)
	if err != nil {
		return replay.Snapshot{}, err
	}

	if s.cfg.ProgressInterval > 0 {
		progressCtx, stop := context.WithCancel(ctx)
		defer stop()
		go s.logProgress(progressCtx, session)
	}

	return session.AwaitDone(ctx, runID)
}

func (s *Supervisor) logProgress(ctx context.Context, session *Session) {
	t := time.NewTicker(s.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := session.Latest()
			s.logger.Info("progress",
				zap.Int64("requests", snap.Requests),
				zap.Int64("failures", snap.Failures),
				zap.Float64("rps", snap.RPS()),
				zap.Duration("avg_latency", snap.AvgLatency),
			)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
