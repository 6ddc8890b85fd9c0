package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/synth"
)

func newSynth(seed uint64) *synth.Synthesizer {
	now := time.Date(2026, 5, 18, 10, 15, 30, 0, time.UTC)
	return synth.NewSeeded(seed, synth.DefaultRanges(), synth.WithClock(func() time.Time { return now }))
}

func smallConfig(target int) Config {
	cfg := DefaultConfig()
	cfg.TargetSize = target
	return cfg
}

type recordingReporter struct {
	mu       sync.Mutex
	started  int
	rejected []int
	progress []Progress
	finished []Summary
}

func (r *recordingReporter) Started(Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingReporter) Rejected(total, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, total)
}

func (r *recordingReporter) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingReporter) Finished(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

// paddedSource emits records whose container ID is long enough to push the
// encoding over any small ceiling on every oversizeEvery-th call.
type paddedSource struct {
	inner         Source
	oversizeEvery int
	calls         atomic.Int64
}

func (s *paddedSource) Synthesize() domain.ContainerTelemetry {
	n := s.calls.Add(1)
	rec := s.inner.Synthesize()
	if s.oversizeEvery > 0 && n%int64(s.oversizeEvery) == 0 {
		rec.ContainerID += strings.Repeat("X", 200)
	}
	return rec
}

func TestBuildScenarioHundredEntries(t *testing.T) {
	cfg := smallConfig(100)
	cfg.MaxPayloadBytes = 158

	p, err := NewBuilder(cfg, newSynth(1), nil).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Len() != 100 {
		t.Fatalf("Len = %d, want 100", p.Len())
	}
	for i := 0; i < p.Len(); i++ {
		if size := p.At(i).Encoded.Size; size >= 158 {
			t.Fatalf("entry %d size %d >= 158", i, size)
		}
	}

	s := p.Summary()
	if !(float64(s.MinSize) <= s.MeanSize && s.MeanSize <= float64(s.MaxSize)) {
		t.Fatalf("size ordering broken: min %d avg %v max %d", s.MinSize, s.MeanSize, s.MaxSize)
	}
	if s.Count != 100 || s.Oversized != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestBuildSizeInvariantAndCardinality(t *testing.T) {
	for _, target := range []int{1, 7, 250, 1000} {
		for _, ceiling := range []int{158, 140} {
			cfg := smallConfig(target)
			cfg.MaxPayloadBytes = ceiling
			cfg.BatchSize = 64

			p, err := NewBuilder(cfg, newSynth(uint64(target*ceiling)), nil).Build(context.Background())
			if err != nil {
				t.Fatalf("target %d ceiling %d: %v", target, ceiling, err)
			}
			if p.Len() != target {
				t.Fatalf("target %d: Len = %d", target, p.Len())
			}
			for i := 0; i < p.Len(); i++ {
				if p.At(i).Encoded.Size >= ceiling {
					t.Fatalf("target %d ceiling %d: entry %d size %d", target, ceiling, i, p.At(i).Encoded.Size)
				}
			}
		}
	}
}

func TestBuildEntriesDecodeToTheirRecords(t *testing.T) {
	p, err := NewBuilder(smallConfig(50), newSynth(9), nil).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < p.Len(); i++ {
		e := p.At(i)
		got, err := codec.Decode(e.Encoded.Bytes)
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if got != e.Record {
			t.Fatalf("entry %d decodes to a different record", i)
		}
	}
}

func TestBuildRejectsOversizedCandidates(t *testing.T) {
	cfg := smallConfig(90)
	cfg.RejectionWarnEvery = 5
	src := &paddedSource{inner: newSynth(2), oversizeEvery: 3}
	rep := &recordingReporter{}

	p, err := NewBuilder(cfg, src, rep).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := p.Summary()
	// the 90th acceptance lands on call 134, after 44 rejections
	if s.Rejected != 44 {
		t.Fatalf("Rejected = %d, want 44", s.Rejected)
	}
	if got := int(src.calls.Load()); got != s.Count+s.Rejected {
		t.Fatalf("source calls = %d, want %d", got, s.Count+s.Rejected)
	}
	if len(rep.rejected) != 8 {
		t.Fatalf("rejection warnings = %v, want every 5th of 44", rep.rejected)
	}
}

func TestBuildUnsatisfiableCeiling(t *testing.T) {
	cfg := smallConfig(10)
	cfg.MaxPayloadBytes = 20
	cfg.MaxConsecutiveRejections = 500
	src := &paddedSource{inner: newSynth(3)}

	done := make(chan error, 1)
	go func() {
		_, err := NewBuilder(cfg, src, nil).Build(context.Background())
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Build did not terminate")
	}

	if !errors.Is(err, ErrUnsatisfiableCeiling) {
		t.Fatalf("err = %v, want ErrUnsatisfiableCeiling", err)
	}
	var ce *CeilingError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *CeilingError", err)
	}
	if ce.Attempts != 500 || ce.MaxPayloadBytes != 20 || ce.SmallestSeen < 20 {
		t.Fatalf("CeilingError = %+v", ce)
	}
	if got := src.calls.Load(); got != 500 {
		t.Fatalf("source calls = %d, want 500", got)
	}
}

func TestBuildProgressPerBatch(t *testing.T) {
	cfg := smallConfig(250)
	cfg.BatchSize = 100
	rep := &recordingReporter{}

	if _, err := NewBuilder(cfg, newSynth(4), rep).Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if rep.started != 1 || len(rep.finished) != 1 {
		t.Fatalf("started %d finished %d", rep.started, len(rep.finished))
	}
	want := []int{100, 200, 250}
	if len(rep.progress) != len(want) {
		t.Fatalf("progress events = %d, want %d", len(rep.progress), len(want))
	}
	for i, p := range rep.progress {
		if p.Count != want[i] || p.Target != 250 {
			t.Errorf("progress[%d] = %+v", i, p)
		}
	}
	last := rep.progress[len(rep.progress)-1]
	if last.Percent != 100 || last.ETA != 0 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := smallConfig(5000)
	cfg.BatchSize = 100

	_, err := NewBuilder(cfg, newSynth(5), nil).Build(ctx)
	if !errors.Is(err, ErrBuildCancelled) {
		t.Fatalf("err = %v, want ErrBuildCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in chain", err)
	}
}

type badDoorSource struct{}

func (badDoorSource) Synthesize() domain.ContainerTelemetry {
	return domain.ContainerTelemetry{Door: "?"}
}

func TestBuildSchemaViolation(t *testing.T) {
	_, err := NewBuilder(smallConfig(3), badDoorSource{}, nil).Build(context.Background())
	if !errors.Is(err, codec.ErrSchemaViolation) {
		t.Fatalf("err = %v, want codec.ErrSchemaViolation", err)
	}
}

func TestBuildInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero target", func(c *Config) { c.TargetSize = 0 }},
		{"zero ceiling", func(c *Config) { c.MaxPayloadBytes = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero rejection cap", func(c *Config) { c.MaxConsecutiveRejections = 0 }},
		{"negative warn", func(c *Config) { c.RejectionWarnEvery = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewBuilder(cfg, newSynth(6), nil).Build(context.Background()); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewProgressETA(t *testing.T) {
	p := newProgress(25, 100, 0, 10*time.Second)
	if p.Percent != 25 {
		t.Fatalf("Percent = %v", p.Percent)
	}
	if p.ETA != 30*time.Second {
		t.Fatalf("ETA = %v, want 30s", p.ETA)
	}
	if z := newProgress(0, 100, 0, time.Second); z.ETA != 0 {
		t.Fatalf("ETA with no progress = %v", z.ETA)
	}
}
