// Package coord runs a load test across several worker processes. A master
// and its workers exchange Commands and Reports over a Bus; every worker
// builds its own pool and replays it against the target.
package coord

import (
	"time"

	"container-telemetry/loadgen/internal/replay"
)

type CommandType string

const (
	CommandStart    CommandType = "start"
	CommandStop     CommandType = "stop"
	CommandShutdown CommandType = "shutdown"
)

// Command is broadcast by the master to every worker. Load settings are per
// worker.
type Command struct {
	Type        CommandType   `json:"type"`
	RunID       string        `json:"run_id,omitempty"`
	Users       int           `json:"users,omitempty"`
	SpawnRate   int           `json:"spawn_rate,omitempty"`
	WaitMin     time.Duration `json:"wait_min,omitempty"`
	WaitMax     time.Duration `json:"wait_max,omitempty"`
	RateLimit   float64       `json:"rate_limit,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	MaxRequests int64         `json:"max_requests,omitempty"`
	IssuedAt    time.Time     `json:"issued_at"`
}

func (c Command) RunnerConfig() replay.RunnerConfig {
	return replay.RunnerConfig{
		Users:       c.Users,
		SpawnRate:   c.SpawnRate,
		WaitMin:     c.WaitMin,
		WaitMax:     c.WaitMax,
		RateLimit:   c.RateLimit,
		Duration:    c.Duration,
		MaxRequests: c.MaxRequests,
	}
}

type ReportType string

const (
	ReportHello     ReportType = "hello"
	ReportPoolReady ReportType = "pool_ready"
	ReportStats     ReportType = "stats"
	ReportDone      ReportType = "done"
	ReportFailed    ReportType = "failed"
)

// Report is sent by a worker to the master.
type Report struct {
	Type     ReportType      `json:"type"`
	WorkerID string          `json:"worker_id"`
	RunID    string          `json:"run_id,omitempty"`
	PoolSize int             `json:"pool_size,omitempty"`
	Stats    replay.Snapshot `json:"stats"`
	Error    string          `json:"error,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}
