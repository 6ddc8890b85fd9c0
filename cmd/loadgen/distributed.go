package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/coord"
	"container-telemetry/loadgen/internal/logging"
	"container-telemetry/loadgen/internal/store"
)

const (
	recommendedUsersPerWorker = 250
	recommendedSpawnPerWorker = 25
	progressInterval          = 10 * time.Second
	readyTimeout              = 5 * time.Minute
)

var (
	flagWorkerID      string
	flagMasterWorkers int
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Coordinate externally started workers over Redis",
	Long: `master waits for --workers workers in the same namespace to report a ready
pool, starts the run on all of them and prints the merged result.`,
	Args: cobra.NoArgs,
	RunE: runMaster,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Build a pool and replay it when the master says so",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var distributedCmd = &cobra.Command{
	Use:   "distributed [workers]",
	Short: "Launch worker processes and a master for one run",
	Long: fmt.Sprintf(`distributed starts the given number of worker processes of this binary
(LOADGEN_WORKERS when omitted), one second apart, and drives a single run
from an in-process master. --users and --spawn-rate apply per worker;
%d users and a spawn rate of %d per worker are a good starting point.`,
		recommendedUsersPerWorker, recommendedSpawnPerWorker),
	Args: cobra.MaximumNArgs(1),
	RunE: runDistributed,
}

func init() {
	workerCmd.Flags().StringVar(&flagWorkerID, "id", "", "Worker id (random when empty)")
	masterCmd.Flags().IntVarP(&flagMasterWorkers, "workers", "w", 0, "Workers to wait for (LOADGEN_WORKERS)")
}

// connectBus opens Redis and the namespaced control bus on top of it.
func connectBus(ctx context.Context, log *zap.Logger) (*store.RedisStore, *coord.RedisBus, error) {
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rs, coord.NewRedisBus(rs, cfg.Namespace, log), nil
}

func startCommand() coord.Command {
	rc := runnerConfig()
	return coord.Command{
		Users:       rc.Users,
		SpawnRate:   rc.SpawnRate,
		WaitMin:     rc.WaitMin,
		WaitMax:     rc.WaitMax,
		RateLimit:   rc.RateLimit,
		Duration:    rc.Duration,
		MaxRequests: rc.MaxRequests,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := flagWorkerID
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	log := logging.ForRole(logger, logging.RoleWorker, id)

	rs, bus, err := connectBus(ctx, log)
	if err != nil {
		return err
	}
	defer rs.Close()

	shared, err := newSharedPool(log)
	if err != nil {
		return err
	}
	sender := newSender(cfg.Users)
	defer sender.Close()

	w := coord.NewWorker(coord.WorkerConfig{ID: id}, bus, shared, sender, rs.WorkerRegistry(cfg.Namespace), log)
	if err := w.Run(ctx); err != nil {
		return diagnose(log, err)
	}
	return nil
}

func runMaster(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := cfg.Workers
	if cmd.Flags().Changed("workers") {
		workers = flagMasterWorkers
	}
	if workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", workers)
	}
	log := logging.ForRole(logger, logging.RoleMaster, "")

	rs, bus, err := connectBus(ctx, log)
	if err != nil {
		return err
	}
	defer rs.Close()

	session, err := coord.NewMaster(bus, log).Listen(ctx)
	if err != nil {
		return err
	}
	log.Info("waiting for workers", zap.Int("workers", workers), zap.String("namespace", cfg.Namespace))

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	ids, err := session.AwaitReady(readyCtx, workers)
	cancel()
	if err != nil {
		return err
	}
	log.Info("all workers ready", zap.Strings("workers", ids))

	started := time.Now()
	runID, err := session.Start(ctx, startCommand())
	if err != nil {
		return err
	}
	snap, runErr := session.AwaitDone(ctx, runID)

	releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelRelease()
	if runErr != nil {
		_ = session.Stop(releaseCtx)
	}
	if err := session.Shutdown(releaseCtx); err != nil {
		log.Warn("shutdown broadcast failed", zap.Error(err))
	}

	logSummary(log, snap)
	recordRun(ctx, log, store.RunResult{
		RunID:      runID,
		Mode:       "distributed",
		Workers:    workers,
		Users:      cfg.Users * workers,
		PoolSize:   snap.PoolSize,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Stats:      snap,
		Error:      errString(runErr),
	})
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func runDistributed(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := cfg.Workers
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("workers must be a positive number, got %q", args[0])
		}
		workers = n
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.ForRole(logger, logging.RoleMaster, "")

	log.Info("starting distributed test",
		zap.Int("workers", workers),
		zap.Int("users_per_worker", cfg.Users),
		zap.Int("spawn_rate_per_worker", cfg.SpawnRate),
		zap.Int("recommended_users_per_worker", recommendedUsersPerWorker),
		zap.Int("recommended_spawn_rate_per_worker", recommendedSpawnPerWorker),
		zap.String("target", cfg.TargetURL()),
	)

	rs, bus, err := connectBus(ctx, log)
	if err != nil {
		return err
	}
	defer rs.Close()

	launcher, err := coord.NewExecLauncher(forwardedFlags()...)
	if err != nil {
		return err
	}
	serveMetrics(ctx, log)

	sup := coord.NewSupervisor(coord.SupervisorConfig{
		Workers:          workers,
		Stagger:          cfg.WorkerStagger,
		ReadyTimeout:     readyTimeout,
		ProgressInterval: progressInterval,
		Run:              startCommand(),
	}, bus, launcher, rs.WorkerRegistry(cfg.Namespace), log)

	started := time.Now()
	snap, runErr := sup.Run(ctx)
	logSummary(log, snap)

	recordRun(ctx, log, store.RunResult{
		RunID:      uuid.NewString(),
		Mode:       "distributed",
		Workers:    workers,
		Users:      cfg.Users * workers,
		PoolSize:   snap.PoolSize,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Stats:      snap,
		Error:      errString(runErr),
	})
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
