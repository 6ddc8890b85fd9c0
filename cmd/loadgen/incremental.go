package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/logging"
	"container-telemetry/loadgen/internal/replay"
	"container-telemetry/loadgen/internal/store"
)

var (
	flagMaxUsers     int
	flagStepSize     int
	flagStepDuration time.Duration
)

var incrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Replay with step-wise increasing user counts",
	Long: `incremental builds the pool once and then runs one fixed-length step per
user count: step-size, 2*step-size, ... up to max-users. Every step starts
min(10, users) users per second.`,
	Args: cobra.NoArgs,
	RunE: runIncremental,
}

func init() {
	incrementalCmd.Flags().IntVar(&flagMaxUsers, "max-users", 1000, "Users in the last step")
	incrementalCmd.Flags().IntVar(&flagStepSize, "step-size", 100, "Users added per step")
	incrementalCmd.Flags().DurationVar(&flagStepDuration, "step-duration", time.Minute, "Length of each step")
}

// StepResult is the outcome of one incremental step.
type StepResult struct {
	Users int
	Stats replay.Snapshot
	Err   error
}

// stepUsers lists the user count of every step.
func stepUsers(step, maxUsers int) ([]int, error) {
	if step <= 0 || maxUsers < step {
		return nil, fmt.Errorf("need 0 < step-size <= max-users, got %d and %d", step, maxUsers)
	}
	var out []int
	for u := step; u <= maxUsers; u += step {
		out = append(out, u)
	}
	return out, nil
}

func runIncremental(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps, err := stepUsers(flagStepSize, flagMaxUsers)
	if err != nil {
		return err
	}
	if flagStepDuration <= 0 {
		return fmt.Errorf("step-duration must be positive")
	}
	log := logging.ForRole(logger, logging.RoleSingle, "")
	log.Info("starting incremental load test",
		zap.Int("max_users", flagMaxUsers),
		zap.Int("step_size", flagStepSize),
		zap.Duration("step_duration", flagStepDuration),
	)

	p, err := buildPool(ctx, log)
	if err != nil {
		return err
	}
	serveMetrics(ctx, log)

	sender := newSender(flagMaxUsers)
	defer sender.Close()

	var results []StepResult
	for _, users := range steps {
		if ctx.Err() != nil {
			break
		}
		rc := runnerConfig()
		rc.Users = users
		rc.SpawnRate = min(10, users)
		rc.Duration = flagStepDuration

		log.Info("testing step", zap.Int("users", users))
		started := time.Now()
		snap, err := replay.NewRunner(p, sender, rc, log.With(zap.Int("step_users", users))).Run(ctx)
		results = append(results, StepResult{Users: users, Stats: snap, Err: err})

		recordRun(ctx, log, store.RunResult{
			RunID:      uuid.NewString(),
			Mode:       "incremental",
			Workers:    1,
			Users:      users,
			PoolSize:   p.Len(),
			StartedAt:  started,
			FinishedAt: time.Now(),
			Stats:      snap,
			Error:      errString(err),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("step failed", zap.Int("users", users), zap.Error(err))
		}
	}

	for _, r := range results {
		log.Info("step result",
			zap.Int("users", r.Users),
			zap.Int64("requests", r.Stats.Requests),
			zap.Int64("failures", r.Stats.Failures),
			zap.Float64("rps", r.Stats.RPS()),
			zap.Duration("avg_latency", r.Stats.AvgLatency),
			zap.Bool("success", r.Err == nil && r.Stats.Failures == 0),
		)
	}
	return nil
}
