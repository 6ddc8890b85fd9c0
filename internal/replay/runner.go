// Package replay drives simulated users that POST pre-encoded pool entries
// to the ingestion endpoint.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"container-telemetry/loadgen/internal/metrics"
	"container-telemetry/loadgen/internal/pool"
)

type RunnerConfig struct {
	Users int
	// SpawnRate is users started per second; 0 starts them all at once.
	SpawnRate int
	WaitMin   time.Duration
	WaitMax   time.Duration
	// RateLimit caps requests per second across all users; 0 is unlimited.
	RateLimit float64
	// Duration stops the run after it elapses; 0 runs until ctx is done.
	Duration time.Duration
	// MaxRequests stops the run once that many sends were issued; 0 is unlimited.
	MaxRequests int64
}

func (c RunnerConfig) Validate() error {
	switch {
	case c.Users <= 0:
		return fmt.Errorf("replay: users must be positive, got %d", c.Users)
	case c.SpawnRate < 0:
		return fmt.Errorf("replay: negative spawn rate")
	case c.WaitMin < 0 || c.WaitMax < c.WaitMin:
		return fmt.Errorf("replay: invalid wait range %v..%v", c.WaitMin, c.WaitMax)
	case c.RateLimit < 0:
		return fmt.Errorf("replay: negative rate limit")
	case c.Duration < 0 || c.MaxRequests < 0:
		return fmt.Errorf("replay: negative run bound")
	}
	return nil
}

// Runner replays one shared pool. Every user owns a cursor starting at the
// first entry.
type Runner struct {
	pool    *pool.Pool
	sender  Sender
	cfg     RunnerConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	stats   *Stats
	issued  atomic.Int64
	started atomic.Int64 // unix nanos
}

func NewRunner(p *pool.Pool, sender Sender, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		pool:   p,
		sender: sender,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "replay")),
		stats:  NewStats(),
	}
	if cfg.RateLimit > 0 {
		burst := max(1, int(cfg.RateLimit))
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// Snapshot reports progress so far; safe to call while Run is in progress.
func (r *Runner) Snapshot() Snapshot {
	var elapsed time.Duration
	if start := r.started.Load(); start > 0 {
		elapsed = time.Since(time.Unix(0, start))
	}
	return r.stats.Snapshot(r.pool.Len(), elapsed)
}

// Run blocks until ctx is done, Duration elapses or MaxRequests is spent.
// Transport failures are counted and never end the run.
func (r *Runner) Run(ctx context.Context) (Snapshot, error) {
	if err := r.cfg.Validate(); err != nil {
		return Snapshot{}, err
	}
	if r.pool == nil || r.pool.Len() == 0 {
		return Snapshot{}, errors.New("replay: empty pool")
	}

	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	r.started.Store(time.Now().UnixNano())
	r.logger.Info("replay started",
		zap.Int("users", r.cfg.Users),
		zap.Int("pool_size", r.pool.Len()),
		zap.Float64("rate_limit", r.cfg.RateLimit),
		zap.Duration("duration", r.cfg.Duration),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Users; i++ {
		if i > 0 && r.cfg.SpawnRate > 0 {
			if !sleep(gctx, time.Second/time.Duration(r.cfg.SpawnRate)) {
				break
			}
		}
		user := i
		g.Go(func() error {
			metrics.ActiveUsers.Add(1)
			defer metrics.ActiveUsers.Add(-1)
			r.user(gctx, user)
			return nil
		})
	}
	err := g.Wait()

	snap := r.Snapshot()
	r.logger.Info("replay finished",
		zap.Int64("requests", snap.Requests),
		zap.Int64("failures", snap.Failures),
		zap.Float64("success_rate", snap.SuccessRate()),
		zap.Duration("avg_latency", snap.AvgLatency),
		zap.Duration("max_latency", snap.MaxLatency),
		zap.Float64("rps", snap.RPS()),
		zap.Float64("pool_cycles", snap.Cycles()),
	)
	return snap, err
}

func (r *Runner) user(ctx context.Context, id int) {
	cursor := pool.NewCursor(r.pool)
	rng := rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))

	for ctx.Err() == nil {
		if r.cfg.MaxRequests > 0 && r.issued.Add(1) > r.cfg.MaxRequests {
			return
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}

		entry := cursor.Next()
		start := time.Now()
		err := r.sender.Send(ctx, entry.Encoded.Bytes)
		latency := time.Since(start)

		if err != nil && ctx.Err() != nil {
			// aborted by shutdown, not a target failure
			return
		}
		r.stats.Record(entry.Encoded.Size, latency, err)
		metrics.RequestsSent.Add(1)
		if err != nil {
			metrics.RequestFailures.Add(1)
			r.logger.Error("send failed",
				zap.Int("user", id),
				zap.Int("size", entry.Encoded.Size),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
		} else {
			metrics.RequestSuccesses.Add(1)
			metrics.BytesSent.Add(int64(entry.Encoded.Size))
		}

		if !sleep(ctx, r.think(rng)) {
			return
		}
	}
}

func (r *Runner) think(rng *rand.Rand) time.Duration {
	span := r.cfg.WaitMax - r.cfg.WaitMin
	if span <= 0 {
		return r.cfg.WaitMin
	}
	return r.cfg.WaitMin + time.Duration(rng.Int64N(int64(span)+1))
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
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
