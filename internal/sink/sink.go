// Package sink is a reference ingestion endpoint for the load generator. It
// decodes ContainerData messages and fans them out to TimescaleDB and Redis.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/auth"
	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/pipeline"
	transport "container-telemetry/loadgen/internal/transport/http"
)

const (
	readTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// TelemetryDB is satisfied by *store.TimescaleStore.
type TelemetryDB interface {
	pipeline.BatchInserter
	pipeline.AlertStore
}

// StateStore is satisfied by *store.RedisStore.
type StateStore interface {
	pipeline.StateUpdater
	pipeline.AlertNotifier
	auth.KeyLookup
}

// Server wires the ingest handler to the writers. A nil db or redis disables
// the writers that need it; alerts need both.
type Server struct {
	cfg    *config.Config
	db     TelemetryDB
	redis  StateStore
	logger *zap.Logger

	readTimeout     time.Duration
	shutdownTimeout time.Duration
}

func New(cfg *config.Config, db TelemetryDB, redis StateStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:             cfg,
		db:              db,
		redis:           redis,
		logger:          logger,
		readTimeout:     readTimeout,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("sink: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is done, then stops accepting requests and drains the
// writers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	d := s.dispatcher()
	writersCtx, cancelWriters := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWriters()
	wg := s.startWriters(writersCtx, d)

	var keys auth.KeyLookup
	if s.redis != nil {
		keys = s.redis
	}
	mux := transport.NewMux(
		s.cfg.TargetPath,
		transport.NewIngestHandler(d, transport.DefaultMaxBodyBytes, s.logger),
		transport.NewAuthMiddleware(auth.NewAuthenticator(s.cfg, keys)),
	)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sink listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("path", s.cfg.TargetPath),
			zap.Bool("db", s.db != nil),
			zap.Bool("redis", s.redis != nil),
		)
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	if shutdownErr != nil {
		// handlers may still dispatch, so the channels stay open
		s.logger.Warn("http shutdown incomplete, abandoning queued messages", zap.Error(shutdownErr))
		cancelWriters()
		wg.Wait()
	} else {
		d.Close()
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			cancelWriters()
			<-drained
		}
	}
	s.logger.Info("sink stopped")

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("sink: serve: %w", serveErr)
	}
	if shutdownErr != nil {
		return fmt.Errorf("sink: shutdown: %w", shutdownErr)
	}
	return nil
}

func (s *Server) dispatcher() *pipeline.Dispatcher {
	var dbSize, stateSize, alertSize int
	if s.db != nil {
		dbSize = s.cfg.DBChannelSize
	}
	if s.redis != nil {
		stateSize = s.cfg.StateChannelSize
	}
	if s.db != nil && s.redis != nil {
		alertSize = s.cfg.AlertChannelSize
	}
	return pipeline.NewDispatcher(dbSize, stateSize, alertSize)
}

func (s *Server) startWriters(ctx context.Context, d *pipeline.Dispatcher) *sync.WaitGroup {
	var wg sync.WaitGroup
	spawn := func(n int, run func(context.Context)) {
		for i := 0; i < max(n, 1); i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(ctx)
			}()
		}
	}

	if d.DBChan != nil {
		spawn(s.cfg.DBWriterWorkers, func(ctx context.Context) {
			pipeline.NewDBWriter(d.DBChan, s.db, s.cfg.DBBatchSize, s.cfg.DBFlushIntervalMS, s.logger).Run(ctx)
		})
	}
	if d.StateChan != nil {
		spawn(s.cfg.StateWriterWorkers, func(ctx context.Context) {
			pipeline.NewStateWriter(d.StateChan, s.redis, s.logger).Run(ctx)
		})
	}
	if d.AlertChan != nil {
		spawn(s.cfg.AlertWorkers, func(ctx context.Context) {
			pipeline.NewAlertEvaluator(d.AlertChan, s.db, s.redis, s.logger).Run(ctx)
		})
	}
	return &wg
}
