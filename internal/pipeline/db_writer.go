package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/metrics"
)

const retryDelay = 500 * time.Millisecond

// BatchInserter is satisfied by *store.TimescaleStore.
type BatchInserter interface {
	BatchInsert(ctx context.Context, msgs []*domain.TelemetryMessage) error
}

type DBWriter struct {
	ch        <-chan *domain.TelemetryMessage
	db        BatchInserter
	batchSize int
	flushMS   int
	logger    *zap.Logger
}

func NewDBWriter(
	ch <-chan *domain.TelemetryMessage,
	db BatchInserter,
	batchSize int,
	flushMS int,
	logger *zap.Logger,
) *DBWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBWriter{
		ch:        ch,
		db:        db,
		batchSize: batchSize,
		flushMS:   flushMS,
		logger:    logger,
	}
}

func (w *DBWriter) Run(ctx context.Context) {
	batch := make([]*domain.TelemetryMessage, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.WithoutCancel(ctx), batch)
				}
				return
			}
			batch = append(batch, msg)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.WithoutCancel(ctx), batch)
			}
			return
		}
	}
}

func (w *DBWriter) flush(ctx context.Context, batch []*domain.TelemetryMessage) {
	err := w.db.BatchInsert(ctx, batch)
	if err != nil {
		w.logger.Warn("db write failed, retrying", zap.Int("batch", len(batch)), zap.Error(err))
		time.Sleep(retryDelay)
		err = w.db.BatchInsert(ctx, batch)
		if err != nil {
			w.logger.Error("db write permanently failed", zap.Int("batch", len(batch)), zap.Error(err))
			metrics.DBWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(int64(len(batch)))
}
