package replay

import (
	"sync/atomic"
	"time"
)

// Stats is updated concurrently by every simulated user.
type Stats struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	bytes     atomic.Int64

	latencySum atomic.Int64
	latencyMin atomic.Int64
	latencyMax atomic.Int64
}

func NewStats() *Stats {
	s := &Stats{}
	s.latencyMin.Store(-1)
	return s
}

func (s *Stats) Record(size int, latency time.Duration, err error) {
	s.requests.Add(1)
	if err != nil {
		s.failures.Add(1)
	} else {
		s.successes.Add(1)
		s.bytes.Add(int64(size))
	}

	ns := int64(latency)
	s.latencySum.Add(ns)
	for {
		cur := s.latencyMin.Load()
		if cur != -1 && cur <= ns {
			break
		}
		if s.latencyMin.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := s.latencyMax.Load()
		if cur >= ns {
			break
		}
		if s.latencyMax.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Requests   int64         `json:"requests"`
	Successes  int64         `json:"successes"`
	Failures   int64         `json:"failures"`
	Bytes      int64         `json:"bytes"`
	MinLatency time.Duration `json:"min_latency"`
	MaxLatency time.Duration `json:"max_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
	Elapsed    time.Duration `json:"elapsed"`
	PoolSize   int           `json:"pool_size"`
}

func (s *Stats) Snapshot(poolSize int, elapsed time.Duration) Snapshot {
	snap := Snapshot{
		Requests:   s.requests.Load(),
		Successes:  s.successes.Load(),
		Failures:   s.failures.Load(),
		Bytes:      s.bytes.Load(),
		MaxLatency: time.Duration(s.latencyMax.Load()),
		Elapsed:    elapsed,
		PoolSize:   poolSize,
	}
	if lo := s.latencyMin.Load(); lo >= 0 {
		snap.MinLatency = time.Duration(lo)
	}
	if snap.Requests > 0 {
		snap.AvgLatency = time.Duration(s.latencySum.Load() / snap.Requests)
	}
	return snap
}

func (s Snapshot) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests) * 100
}

func (s Snapshot) RPS() float64 {
	if secs := s.Elapsed.Seconds(); secs > 0 {
		return float64(s.Requests) / secs
	}
	return 0
}

// Cycles is how many times the pool has been replayed end to end.
func (s Snapshot) Cycles() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.Requests) / float64(s.PoolSize)
}

// Merge sums counters from several snapshots, as reported by separate workers.
// Every worker replays its own pool, so pool sizes add up and Cycles stays the
// per-pool average.
func Merge(snaps ...Snapshot) Snapshot {
	var out Snapshot
	var weighted time.Duration
	for _, s := range snaps {
		out.Requests += s.Requests
		out.Successes += s.Successes
		out.Failures += s.Failures
		out.Bytes += s.Bytes
		out.PoolSize += s.PoolSize
		out.Elapsed = max(out.Elapsed, s.Elapsed)
		out.MaxLatency = max(out.MaxLatency, s.MaxLatency)
		if s.MinLatency > 0 && (out.MinLatency == 0 || s.MinLatency < out.MinLatency) {
			out.MinLatency = s.MinLatency
		}
		weighted += s.AvgLatency * time.Duration(s.Requests)
	}
	if out.Requests > 0 {
		out.AvgLatency = weighted / time.Duration(out.Requests)
	}
	return out
}
