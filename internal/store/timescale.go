package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/replay"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var telemetryColumns = []string{
	"received_at",
	"device_time",
	"msisdn",
	"iso6346",
	"rssi",
	"cgi",
	"ble_m",
	"bat_soc",
	"acc_x",
	"acc_y",
	"acc_z",
	"temperature",
	"humidity",
	"pressure",
	"door",
	"gnss",
	"latitude",
	"longitude",
	"altitude",
	"speed",
	"heading",
	"nsat",
	"hdop",
	"raw_payload",
}

func telemetryRow(m *domain.TelemetryMessage) []interface{} {
	r := m.Record
	var deviceTime interface{}
	if t, err := r.DeviceTime(); err == nil {
		deviceTime = t
	}
	return []interface{}{
		m.ReceivedAt,
		deviceTime,
		r.SubscriberID,
		r.ContainerID,
		r.SignalStrength,
		r.CellID,
		r.BLENode,
		r.BatteryPct,
		r.AccelX,
		r.AccelY,
		r.AccelZ,
		r.Temperature,
		r.Humidity,
		r.Pressure,
		string(r.Door),
		r.GNSSStatus,
		r.Latitude,
		r.Longitude,
		r.Altitude,
		r.Speed,
		r.Heading,
		r.SatelliteCount,
		r.HDOP,
		m.RawPayload,
	}
}

func (s *TimescaleStore) BatchInsert(ctx context.Context, msgs []*domain.TelemetryMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(msgs))
	for i, m := range msgs {
		rows[i] = telemetryRow(m)
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"container_telemetry"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(msgs), err)
	}

	return nil
}

func (s *TimescaleStore) InsertAlert(
	ctx context.Context,
	containerID string,
	alertType domain.AlertType,
	severity domain.AlertSeverity,
	triggerValue float64,
) error {
	query := `
		INSERT INTO container_alerts
			(iso6346, alert_type, severity, triggered_value, created_at)
		VALUES
			($1, $2, $3, $4, NOW())
		ON CONFLICT DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		containerID,
		string(alertType),
		string(severity),
		triggerValue,
	)
	return err
}

// RunResult is one finished load test as kept in the loadgen_runs ledger.
type RunResult struct {
	RunID      string
	Mode       string
	Workers    int
	Users      int
	PoolSize   int
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      replay.Snapshot
	Error      string
}

func (s *TimescaleStore) InsertRunResult(ctx context.Context, r RunResult) error {
	query := `
		INSERT INTO loadgen_runs
			(run_id, mode, workers, users, pool_size, started_at, finished_at,
			 requests, successes, failures, bytes_sent,
			 avg_latency_ms, max_latency_ms, rps, error)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	var runErr *string
	if r.Error != "" {
		runErr = &r.Error
	}
	_, err := s.pool.Exec(
		ctx,
		query,
		r.RunID,
		r.Mode,
		r.Workers,
		r.Users,
		r.PoolSize,
		r.StartedAt,
		r.FinishedAt,
		r.Stats.Requests,
		r.Stats.Successes,
		r.Stats.Failures,
		r.Stats.Bytes,
		float64(r.Stats.AvgLatency)/float64(time.Millisecond),
		float64(r.Stats.MaxLatency)/float64(time.Millisecond),
		r.Stats.RPS(),
		runErr,
	)
	if err != nil {
		return fmt.Errorf("insert run %s failed: %w", r.RunID, err)
	}
	return nil
}
