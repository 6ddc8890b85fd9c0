package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/sink"
	"container-telemetry/loadgen/internal/store"
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Run the reference ingestion endpoint",
	Long: `sink accepts ContainerData messages on HTTP_PORT at the target path. Decoded
readings are written to TimescaleDB and Redis when they are reachable; the
sink keeps accepting traffic without them.`,
	Args: cobra.NoArgs,
	RunE: runSink,
}

func runSink(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.With(zap.String("component", "sink"))

	var db sink.TelemetryDB
	if ts, err := store.NewTimescaleStore(ctx, cfg); err != nil {
		log.Warn("timescaledb unavailable, telemetry and alerts are not persisted", zap.Error(err))
	} else {
		defer ts.Close()
		db = ts
	}

	var rd sink.StateStore
	if rs, err := store.NewRedisStore(ctx, cfg); err != nil {
		log.Warn("redis unavailable, state and key lookups disabled", zap.Error(err))
	} else {
		defer rs.Close()
		rd = rs
	}

	return sink.New(cfg, db, rd, log).ListenAndServe(ctx)
}
