package pool

import (
	"go.uber.org/zap"
)

// Reporter receives build lifecycle events.
type Reporter interface {
	Started(cfg Config)
	Rejected(total, size, ceiling int)
	Progress(p Progress)
	Finished(s Summary)
}

type NopReporter struct{}

func (NopReporter) Started(Config)         {}
func (NopReporter) Rejected(int, int, int) {}
func (NopReporter) Progress(Progress)      {}
func (NopReporter) Finished(Summary)       {}

// LogReporter writes build events to a zap logger.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger.With(zap.String("component", "pool"))}
}

func (r *LogReporter) Started(cfg Config) {
	r.logger.Info("building data pool",
		zap.Int("target", cfg.TargetSize),
		zap.Int("max_payload_bytes", cfg.MaxPayloadBytes),
		zap.Int("batch_size", cfg.BatchSize),
	)
}

func (r *LogReporter) Rejected(total, size, ceiling int) {
	r.logger.Warn("rejected oversized candidates",
		zap.Int("rejected", total),
		zap.Int("last_size", size),
		zap.Int("ceiling", ceiling),
	)
}

func (r *LogReporter) Progress(p Progress) {
	r.logger.Info("pool progress",
		zap.Int("count", p.Count),
		zap.Int("target", p.Target),
		zap.Float64("percent", p.Percent),
		zap.Duration("elapsed", p.Elapsed),
		zap.Duration("eta", p.ETA),
		zap.Int("rejected", p.Rejected),
	)
}

func (r *LogReporter) Finished(s Summary) {
	r.logger.Info("data pool ready",
		zap.Int("count", s.Count),
		zap.Int("rejected", s.Rejected),
		zap.Int("min_size", s.MinSize),
		zap.Int("max_size", s.MaxSize),
		zap.Float64("avg_size", s.MeanSize),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("records_per_sec", s.Rate),
		zap.Int64("memory_bytes", s.MemoryBytes),
		zap.Int("oversized", s.Oversized),
	)
}
