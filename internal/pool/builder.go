package pool

import (
	"context"
	"fmt"
	"math"
	"time"

	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/domain"
)

const (
	DefaultTargetSize               = 10000
	DefaultMaxPayloadBytes          = 158
	DefaultBatchSize                = 50000
	DefaultMaxConsecutiveRejections = 100000
	DefaultRejectionWarnEvery       = 100

	// candidates synthesized between context checks inside a batch
	cancelCheckInterval = 1024
)

// Source produces candidate records. *synth.Synthesizer satisfies it.
type Source interface {
	Synthesize() domain.ContainerTelemetry
}

type Config struct {
	TargetSize               int
	MaxPayloadBytes          int
	BatchSize                int
	MaxConsecutiveRejections int
	RejectionWarnEvery       int // 0 disables rejection warnings
}

func DefaultConfig() Config {
	return Config{
		TargetSize:               DefaultTargetSize,
		MaxPayloadBytes:          DefaultMaxPayloadBytes,
		BatchSize:                DefaultBatchSize,
		MaxConsecutiveRejections: DefaultMaxConsecutiveRejections,
		RejectionWarnEvery:       DefaultRejectionWarnEvery,
	}
}

func (c Config) Validate() error {
	switch {
	case c.TargetSize <= 0:
		return fmt.Errorf("%w: target size %d", ErrInvalidConfig, c.TargetSize)
	case c.MaxPayloadBytes <= 0:
		return fmt.Errorf("%w: max payload bytes %d", ErrInvalidConfig, c.MaxPayloadBytes)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	case c.MaxConsecutiveRejections <= 0:
		return fmt.Errorf("%w: max consecutive rejections %d", ErrInvalidConfig, c.MaxConsecutiveRejections)
	case c.RejectionWarnEvery < 0:
		return fmt.Errorf("%w: rejection warn interval %d", ErrInvalidConfig, c.RejectionWarnEvery)
	}
	return nil
}

// Builder fills a Pool by rejection sampling: candidates whose encoding is
// not strictly below MaxPayloadBytes are discarded and redrawn.
type Builder struct {
	cfg      Config
	source   Source
	reporter Reporter
}

func NewBuilder(cfg Config, source Source, reporter Reporter) *Builder {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Builder{cfg: cfg, source: source, reporter: reporter}
}

func (b *Builder) Config() Config { return b.cfg }

func (b *Builder) Build(ctx context.Context) (*Pool, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, cfg.TargetSize)
	rejected, consecutive := 0, 0
	smallestRejected := math.MaxInt
	attempts := 0
	start := time.Now()

	b.reporter.Started(cfg)

	for len(entries) < cfg.TargetSize {
		goal := len(entries) + min(cfg.BatchSize, cfg.TargetSize-len(entries))

		for len(entries) < goal {
			attempts++
			if attempts%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, cancelled(err, len(entries), cfg.TargetSize)
				}
			}

			rec := b.source.Synthesize()
			msg, err := codec.Encode(rec)
			if err != nil {
				return nil, fmt.Errorf("pool: encode candidate: %w", err)
			}

			if msg.Size >= cfg.MaxPayloadBytes {
				rejected++
				consecutive++
				smallestRejected = min(smallestRejected, msg.Size)
				if cfg.RejectionWarnEvery > 0 && rejected%cfg.RejectionWarnEvery == 0 {
					b.reporter.Rejected(rejected, msg.Size, cfg.MaxPayloadBytes)
				}
				if consecutive >= cfg.MaxConsecutiveRejections {
					return nil, &CeilingError{
						MaxPayloadBytes: cfg.MaxPayloadBytes,
						Attempts:        consecutive,
						SmallestSeen:    smallestRejected,
					}
				}
				continue
			}

			consecutive = 0
			entries = append(entries, Entry{Record: rec, Encoded: msg})
		}

		b.reporter.Progress(newProgress(len(entries), cfg.TargetSize, rejected, time.Since(start)))

		if err := ctx.Err(); err != nil && len(entries) < cfg.TargetSize {
			return nil, cancelled(err, len(entries), cfg.TargetSize)
		}
	}

	summary := summarize(entries, rejected, cfg.MaxPayloadBytes, time.Since(start))
	if summary.Oversized > 0 {
		return nil, fmt.Errorf("pool: %d entries at or above %d bytes after build", summary.Oversized, cfg.MaxPayloadBytes)
	}
	b.reporter.Finished(summary)

	return &Pool{entries: entries, summary: summary}, nil
}

func cancelled(cause error, built, target int) error {
	return fmt.Errorf("%w after %d of %d records: %w", ErrBuildCancelled, built, target, cause)
}

// Progress is emitted after every batch.
type Progress struct {
	Count    int
	Target   int
	Rejected int
	Percent  float64
	Elapsed  time.Duration
	ETA      time.Duration
}

func newProgress(count, target, rejected int, elapsed time.Duration) Progress {
	p := Progress{Count: count, Target: target, Rejected: rejected, Elapsed: elapsed}
	if target > 0 {
		p.Percent = float64(count) / float64(target) * 100
	}
	if count > 0 {
		total := time.Duration(float64(elapsed) * float64(target) / float64(count))
		p.ETA = max(total-elapsed, 0)
	}
	return p
}
