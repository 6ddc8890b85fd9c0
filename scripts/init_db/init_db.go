package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"container-telemetry/loadgen/internal/config"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatal(err)
	}
	cfg := config.Load()

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer pool.Close()
	fmt.Println("✓ Connected")

	step1_extensions(ctx, pool)
	step2_telemetry_table(ctx, pool)
	step3_alerts_table(ctx, pool)
	step4_runs_table(ctx, pool)
	step5_indexes(ctx, pool)
	step6_verify(ctx, pool)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, pool,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: container_telemetry table
// ─────────────────────────────────────────────────────────────
func step2_telemetry_table(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 2: container_telemetry table ───────────")

	// Column order matches store.telemetryColumns.
	execOrFatal(ctx, pool, `
		CREATE TABLE IF NOT EXISTS container_telemetry (
			received_at   TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- device clock, parsed from the DDMMYY HHMMSS.s field
			-- NULL when the device sent something unparseable
			device_time   TIMESTAMPTZ,

			msisdn        TEXT             NOT NULL,
			iso6346       TEXT             NOT NULL,
			rssi          INTEGER          NOT NULL DEFAULT 0,
			cgi           TEXT             NOT NULL DEFAULT '',
			ble_m         INTEGER          NOT NULL DEFAULT 0,
			bat_soc       INTEGER          NOT NULL DEFAULT 0,

			acc_x         REAL             NOT NULL DEFAULT 0,
			acc_y         REAL             NOT NULL DEFAULT 0,
			acc_z         REAL             NOT NULL DEFAULT 0,

			temperature   REAL             NOT NULL DEFAULT 0,
			humidity      REAL             NOT NULL DEFAULT 0,
			pressure      REAL             NOT NULL DEFAULT 0,

			door          CHAR(1)          NOT NULL,
			gnss          INTEGER          NOT NULL DEFAULT 0,
			latitude      REAL             NOT NULL DEFAULT 0,
			longitude     REAL             NOT NULL DEFAULT 0,
			altitude      REAL             NOT NULL DEFAULT 0,
			speed         REAL             NOT NULL DEFAULT 0,
			heading       REAL             NOT NULL DEFAULT 0,
			nsat          INTEGER          NOT NULL DEFAULT 0,
			hdop          REAL             NOT NULL DEFAULT 0,

			-- protobuf bytes exactly as received
			raw_payload   BYTEA,

			CONSTRAINT chk_door CHECK (door IN ('D', 'O', 'C', 'T'))
		);
	`, "container_telemetry table created")

	// partition on receipt time, device clocks lag by up to an hour
	execOrFatal(ctx, pool, `
		SELECT create_hypertable(
			'container_telemetry',
			'received_at',
			if_not_exists => TRUE
		);
	`, "container_telemetry converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3: container_alerts table
// ─────────────────────────────────────────────────────────────
func step3_alerts_table(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 3: container_alerts table ──────────────")

	execOrFatal(ctx, pool, `
		CREATE TABLE IF NOT EXISTS container_alerts (
			id               BIGSERIAL        PRIMARY KEY,
			iso6346          TEXT             NOT NULL,

			-- must match domain.AlertType and domain.AlertSeverity
			alert_type       TEXT             NOT NULL,
			severity         TEXT             NOT NULL,

			triggered_value  DOUBLE PRECISION,
			created_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			acknowledged_at  TIMESTAMPTZ,
			acknowledged_by  TEXT,

			CONSTRAINT chk_alert_type CHECK (
				alert_type IN ('DOOR_OPEN', 'DOOR_TAMPERED', 'LOW_BATTERY', 'HIGH_TEMPERATURE')
			),
			CONSTRAINT chk_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			)
		);
	`, "container_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4: loadgen_runs table
// ─────────────────────────────────────────────────────────────
func step4_runs_table(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 4: loadgen_runs table ──────────────────")

	execOrFatal(ctx, pool, `
		CREATE TABLE IF NOT EXISTS loadgen_runs (
			run_id          TEXT             PRIMARY KEY,

			-- single | distributed | incremental
			mode            TEXT             NOT NULL,
			workers         INTEGER          NOT NULL DEFAULT 1,
			users           INTEGER          NOT NULL,
			pool_size       INTEGER          NOT NULL,

			started_at      TIMESTAMPTZ      NOT NULL,
			finished_at     TIMESTAMPTZ      NOT NULL,

			requests        BIGINT           NOT NULL DEFAULT 0,
			successes       BIGINT           NOT NULL DEFAULT 0,
			failures        BIGINT           NOT NULL DEFAULT 0,
			bytes_sent      BIGINT           NOT NULL DEFAULT 0,
			avg_latency_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_latency_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
			rps             DOUBLE PRECISION NOT NULL DEFAULT 0,

			error           TEXT
		);
	`, "loadgen_runs table created")
}

// ─────────────────────────────────────────────────────────────
// Step 5: Indexes
// ─────────────────────────────────────────────────────────────
func step5_indexes(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_telemetry_container_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_container_time
				  ON container_telemetry (iso6346, received_at DESC);`,
			why: "query: history for one container",
		},
		{
			name: "idx_telemetry_door",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_door
				  ON container_telemetry (door, received_at DESC)
				  WHERE door IN ('O', 'T');`,
			why: "query: open or tampered doors (partial index)",
		},
		{
			name: "idx_alerts_container",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_container
				  ON container_alerts (iso6346, created_at DESC);`,
			why: "query: alerts for one container",
		},
		{
			name: "idx_alerts_unacknowledged",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_unacknowledged
				  ON container_alerts (created_at DESC)
				  WHERE acknowledged_at IS NULL;`,
			why: "query: unacknowledged alerts only (partial index)",
		},
		{
			name: "idx_runs_started",
			sql: `CREATE INDEX IF NOT EXISTS idx_runs_started
				  ON loadgen_runs (started_at DESC);`,
			why: "query: most recent load tests",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, pool, idx.sql,
			fmt.Sprintf("%-32s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify
// ─────────────────────────────────────────────────────────────
func step6_verify(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"container_telemetry", "container_alerts", "loadgen_runs"}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertableName string
	err := pool.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'container_telemetry'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("container_telemetry is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	var indexCount int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('container_telemetry', 'container_alerts', 'loadgen_runs')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a statement and prints the label, or exits on error.
func execOrFatal(ctx context.Context, pool *pgxpool.Pool, sql, label string) {
	if _, err := pool.Exec(ctx, sql); err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
