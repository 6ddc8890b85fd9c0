package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/domain"
)

const (
	stateBatchSize     = 100
	stateFlushInterval = 50 * time.Millisecond
)

// StateUpdater is satisfied by *store.RedisStore.
type StateUpdater interface {
	PipelineStateUpdate(ctx context.Context, msg *domain.TelemetryMessage) error
}

// StateWriter keeps the latest reading of every container in Redis.
type StateWriter struct {
	ch     <-chan *domain.TelemetryMessage
	redis  StateUpdater
	logger *zap.Logger
}

func NewStateWriter(
	ch <-chan *domain.TelemetryMessage,
	redis StateUpdater,
	logger *zap.Logger,
) *StateWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateWriter{ch: ch, redis: redis, logger: logger}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.TelemetryMessage, 0, stateBatchSize)
	ticker := time.NewTicker(stateFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.TelemetryMessage) {
	for _, msg := range batch {
		if err := w.redis.PipelineStateUpdate(ctx, msg); err != nil {
			w.logger.Warn("redis state update failed", zap.String("iso6346", msg.Record.ContainerID), zap.Error(err))
		}
	}
}
