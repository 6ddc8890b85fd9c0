package pool

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"container-telemetry/loadgen/internal/domain"
)

func buildPool(t *testing.T, n int) *Pool {
	t.Helper()
	p, err := NewBuilder(smallConfig(n), newSynth(uint64(n)), nil).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func TestCursorCoversPoolOnceThenWraps(t *testing.T) {
	p := buildPool(t, 37)
	c := NewCursor(p)

	seen := make(map[string]int, p.Len())
	var first Entry
	for i := 0; i < p.Len(); i++ {
		e := c.Next()
		if i == 0 {
			first = e
		}
		if e.Encoded.Size != p.At(i).Encoded.Size || e.Record != p.At(i).Record {
			t.Fatalf("call %d returned entry out of order", i)
		}
		seen[string(e.Encoded.Bytes)]++
	}

	for i := 0; i < p.Len(); i++ {
		if n := seen[string(p.At(i).Encoded.Bytes)]; n < 1 {
			t.Fatalf("entry %d never returned", i)
		}
	}
	total := 0
	for _, n := range seen {
		total += n
	}
	if total != p.Len() {
		t.Fatalf("returned %d entries, want %d", total, p.Len())
	}

	if again := c.Next(); again.Record != first.Record {
		t.Fatal("call len+1 did not return the first entry")
	}
}

func TestCursorsAreIndependent(t *testing.T) {
	p := buildPool(t, 5)
	a, b := NewCursor(p), NewCursor(p)

	for i := 0; i < 7; i++ {
		a.Next()
	}
	for i := 0; i < 2; i++ {
		b.Next()
	}

	if a.Index() != 7%5 {
		t.Fatalf("a.Index = %d, want 2", a.Index())
	}
	if b.Index() != 2%5 {
		t.Fatalf("b.Index = %d, want 2", b.Index())
	}
	if ea, eb := a.Next(), b.Next(); ea.Record != eb.Record {
		t.Fatal("cursors at the same index returned different entries")
	}
}

func TestNewCursorPanicsOnEmptyPool(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewCursor(&Pool{})
}

type countingSource struct {
	inner Source
	calls atomic.Int64
}

func (s *countingSource) Synthesize() domain.ContainerTelemetry {
	s.calls.Add(1)
	return s.inner.Synthesize()
}

func TestSharedBuildsOnce(t *testing.T) {
	src := &countingSource{inner: newSynth(11)}
	shared := NewShared(NewBuilder(smallConfig(200), src, nil))

	var wg sync.WaitGroup
	pools := make([]*Pool, 8)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := shared.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			pools[i] = p
		}(i)
	}
	wg.Wait()

	for i, p := range pools {
		if p != pools[0] {
			t.Fatalf("caller %d got a different pool", i)
		}
	}
	if got := src.calls.Load(); got != 200 {
		t.Fatalf("source calls = %d, want one build of 200", got)
	}
}

func TestSharedRetriesAfterCancellation(t *testing.T) {
	cfg := smallConfig(300)
	cfg.BatchSize = 100
	shared := NewShared(NewBuilder(cfg, newSynth(12), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := shared.Get(ctx); !errors.Is(err, ErrBuildCancelled) {
		t.Fatalf("err = %v, want ErrBuildCancelled", err)
	}

	p, err := shared.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after cancel: %v", err)
	}
	if p.Len() != 300 {
		t.Fatalf("Len = %d", p.Len())
	}
}

func TestSharedMemoizesFailure(t *testing.T) {
	src := &countingSource{inner: badDoorSource{}}
	shared := NewShared(NewBuilder(smallConfig(3), src, nil))

	_, err1 := shared.Get(context.Background())
	_, err2 := shared.Get(context.Background())
	if err1 == nil || err1 != err2 {
		t.Fatalf("errors = %v, %v", err1, err2)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls.Load())
	}
}

// gatedSource blocks its first call until release is closed.
type gatedSource struct {
	inner   Source
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) Synthesize() domain.ContainerTelemetry {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.inner.Synthesize()
}

func TestSharedWaiterHonoursOwnContext(t *testing.T) {
	src := &gatedSource{inner: newSynth(13), started: make(chan struct{}), release: make(chan struct{})}
	shared := NewShared(NewBuilder(smallConfig(50), src, nil))

	first := make(chan error, 1)
	go func() {
		_, err := shared.Get(context.Background())
		first <- err
	}()
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := shared.Get(ctx); !errors.Is(err, ErrBuildCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiter err = %v, want ErrBuildCancelled wrapping the deadline", err)
	}

	close(src.release)
	if err := <-first; err != nil {
		t.Fatalf("first Get: %v", err)
	}
	p, err := shared.Get(context.Background())
	if err != nil || p.Len() != 50 {
		t.Fatalf("Get after build = %v, %v", p, err)
	}
}

func TestEntriesDoNotAliasPool(t *testing.T) {
	p := buildPool(t, 3)
	want := append([]byte(nil), p.At(0).Encoded.Bytes...)

	e := NewCursor(p).Next()
	for i := range e.Encoded.Bytes {
		e.Encoded.Bytes[i] = 0xff
	}
	at := p.At(0)
	at.Encoded.Bytes[0] = 0x00

	if got := p.At(0).Encoded.Bytes; !bytes.Equal(got, want) {
		t.Fatalf("pool entry changed through a returned slice: % x", got)
	}
}
