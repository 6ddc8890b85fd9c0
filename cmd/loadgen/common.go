package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/metrics"
	"container-telemetry/loadgen/internal/pool"
	"container-telemetry/loadgen/internal/replay"
	"container-telemetry/loadgen/internal/store"
	"container-telemetry/loadgen/internal/synth"
)

// parseRunTime accepts a Go duration or a bare number of seconds.
func parseRunTime(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --run-time %q: %w", s, err)
	}
	return d, nil
}

func newSynthesizer() (*synth.Synthesizer, error) {
	ranges := synth.DefaultRanges()
	if cfg.RangesFile != "" {
		r, err := synth.LoadRanges(cfg.RangesFile)
		if err != nil {
			return nil, err
		}
		ranges = r
	}
	return synth.New(ranges), nil
}

// metricsReporter mirrors the finished pool into the exported counters.
type metricsReporter struct {
	pool.Reporter
}

func (r metricsReporter) Finished(s pool.Summary) {
	metrics.PoolEntries.Store(int64(s.Count))
	metrics.PoolRejected.Store(int64(s.Rejected))
	r.Reporter.Finished(s)
}

func newSharedPool(log *zap.Logger) (*pool.Shared, error) {
	s, err := newSynthesizer()
	if err != nil {
		return nil, err
	}
	b := pool.NewBuilder(cfg.PoolConfig(), s, metricsReporter{pool.NewLogReporter(log)})
	return pool.NewShared(b), nil
}

// buildPool builds the process pool or explains why the ceiling cannot be met.
func buildPool(ctx context.Context, log *zap.Logger) (*pool.Pool, error) {
	shared, err := newSharedPool(log)
	if err != nil {
		return nil, err
	}
	p, err := shared.Get(ctx)
	if err != nil {
		return nil, diagnose(log, err)
	}
	return p, nil
}

func diagnose(log *zap.Logger, err error) error {
	var ce *pool.CeilingError
	if errors.As(err, &ce) {
		log.Error("payload ceiling cannot be met with the configured field ranges",
			zap.Int("max_payload_bytes", ce.MaxPayloadBytes),
			zap.Int("consecutive_rejections", ce.Attempts),
			zap.Int("smallest_seen", ce.SmallestSeen),
		)
		return fmt.Errorf("set LOADGEN_MAX_PAYLOAD_BYTES above %d or narrow the ranges profile: %w", ce.SmallestSeen, err)
	}
	return err
}

func runnerConfig() replay.RunnerConfig {
	wmin, wmax := cfg.WaitRange()
	return replay.RunnerConfig{
		Users:       cfg.Users,
		SpawnRate:   cfg.SpawnRate,
		WaitMin:     wmin,
		WaitMax:     wmax,
		RateLimit:   cfg.RateLimit,
		Duration:    cfg.RunDuration(),
		MaxRequests: flagMaxRequests,
	}
}

func newSender(users int) *replay.HTTPSender {
	return replay.NewHTTPSender(replay.HTTPSenderConfig{
		URL:      cfg.TargetURL(),
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout(),
		MaxConns: users,
	})
}

// serveMetrics exposes /metrics until ctx is done. An empty port disables it.
func serveMetrics(ctx context.Context, log *zap.Logger) {
	if cfg.MetricsPort == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.HandleMetrics)
	srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func logSummary(log *zap.Logger, snap replay.Snapshot) {
	log.Info("test stopped",
		zap.Int64("total_requests", snap.Requests),
		zap.Int64("failures", snap.Failures),
		zap.Float64("success_rate", snap.SuccessRate()),
		zap.Duration("avg_latency", snap.AvgLatency),
		zap.Duration("max_latency", snap.MaxLatency),
		zap.Float64("rps", snap.RPS()),
		zap.Float64("pool_cycles", snap.Cycles()),
		zap.Int64("bytes_sent", snap.Bytes),
	)
}

// recordRun appends the run to loadgen_runs when recording is enabled.
// Failures are logged; they never fail the run.
func recordRun(ctx context.Context, log *zap.Logger, r store.RunResult) {
	if !cfg.RecordResults {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	db, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		log.Warn("run not recorded", zap.Error(err))
		return
	}
	defer db.Close()

	if err := db.InsertRunResult(ctx, r); err != nil {
		log.Warn("run not recorded", zap.Error(err))
		return
	}
	log.Info("run recorded", zap.String("run_id", r.RunID))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
