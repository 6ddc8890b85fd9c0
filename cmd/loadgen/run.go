package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"container-telemetry/loadgen/internal/logging"
	"container-telemetry/loadgen/internal/replay"
	"container-telemetry/loadgen/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the data pool and replay it from a single process",
	Args:  cobra.NoArgs,
	RunE:  runSingle,
}

func runSingle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.ForRole(logger, logging.RoleSingle, "")

	p, err := buildPool(ctx, log)
	if err != nil {
		return err
	}
	serveMetrics(ctx, log)

	rc := runnerConfig()
	sender := newSender(rc.Users)
	defer sender.Close()

	started := time.Now()
	snap, err := replay.NewRunner(p, sender, rc, log).Run(ctx)
	logSummary(log, snap)

	recordRun(ctx, log, store.RunResult{
		RunID:      uuid.NewString(),
		Mode:       "single",
		Workers:    1,
		Users:      rc.Users,
		PoolSize:   p.Len(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Stats:      snap,
		Error:      errString(err),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
