package pool

import (
	"context"
	"errors"
	"sync"
)

// Cursor hands out pool entries in order and wraps around at the end.
// Each consumer owns its own Cursor; a Cursor is not safe for concurrent use.
type Cursor struct {
	pool *Pool
	next int
}

// NewCursor panics on a nil or empty pool; Build never returns one.
func NewCursor(p *Pool) *Cursor {
	if p == nil || p.Len() == 0 {
		panic("pool: cursor over empty pool")
	}
	return &Cursor{pool: p}
}

// Next returns the entry at Index and advances. The entry's bytes are a copy.
func (c *Cursor) Next() Entry {
	e := c.pool.entries[c.next]
	c.next = (c.next + 1) % len(c.pool.entries)
	return e.detached()
}

// Index is the position the next call to Next will return.
func (c *Cursor) Index() int { return c.next }

// Shared builds a pool at most once per process and hands the same *Pool to
// every caller. A build that fails on context cancellation is not memoized,
// so a later Get retries it; any other outcome is final.
type Shared struct {
	builder *Builder

	mu sync.Mutex
	// building is closed when the build in flight ends
	building chan struct{}
	done     bool
	pool     *Pool
	err      error
}

func NewShared(b *Builder) *Shared {
	return &Shared{builder: b}
}

// Get blocks until the pool is built by this or a concurrent caller. A caller
// waiting on another caller's build gives up when its own ctx is done.
func (s *Shared) Get(ctx context.Context) (*Pool, error) {
	for {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return s.pool, s.err
		}
		if wait := s.building; wait != nil {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, cancelled(context.Cause(ctx), 0, s.builder.cfg.TargetSize)
			}
		}
		gate := make(chan struct{})
		s.building = gate
		s.mu.Unlock()

		p, err := s.builder.Build(ctx)

		s.mu.Lock()
		if !errors.Is(err, ErrBuildCancelled) {
			s.pool, s.err, s.done = p, err, true
		}
		s.building = nil
		close(gate)
		s.mu.Unlock()
		return p, err
	}
}
