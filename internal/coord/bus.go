package coord

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("coord: bus closed")

// Bus carries commands from the master and reports from workers. Messages
// published before a subscription exists are not delivered to it.
// Subscription channels close when their context is done.
type Bus interface {
	PublishCommand(ctx context.Context, cmd Command) error
	SubscribeCommands(ctx context.Context) (<-chan Command, error)
	PublishReport(ctx context.Context, r Report) error
	SubscribeReports(ctx context.Context) (<-chan Report, error)
}

// InMemoryBus connects a master and workers running in one process.
type InMemoryBus struct {
	commands *topic[Command]
	reports  *topic[Report]
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{commands: newTopic[Command](), reports: newTopic[Report]()}
}

func (b *InMemoryBus) PublishCommand(ctx context.Context, cmd Command) error {
	return b.commands.publish(ctx, cmd)
}

func (b *InMemoryBus) SubscribeCommands(ctx context.Context) (<-chan Command, error) {
	return b.commands.subscribe(ctx)
}

func (b *InMemoryBus) PublishReport(ctx context.Context, r Report) error {
	return b.reports.publish(ctx, r)
}

func (b *InMemoryBus) SubscribeReports(ctx context.Context) (<-chan Report, error) {
	return b.reports.subscribe(ctx)
}

// Close ends every subscription.
func (b *InMemoryBus) Close() {
	b.commands.close()
	b.reports.close()
}

const subscriberBuffer = 256

type subscriber[T any] struct {
	inbox chan T
	done  chan struct{}
}

type topic[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

func newTopic[T any]() *topic[T] {
	return &topic[T]{subs: make(map[*subscriber[T]]struct{})}
}

func (t *topic[T]) subscribe(ctx context.Context) (<-chan T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrBusClosed
	}

	s := &subscriber[T]{inbox: make(chan T, subscriberBuffer), done: make(chan struct{})}
	t.subs[s] = struct{}{}

	out := make(chan T)
	go func() {
		defer close(out)
		defer t.remove(s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case v := <-s.inbox:
				select {
				case out <- v:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *topic[T]) remove(s *subscriber[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[s]; ok {
		delete(t.subs, s)
		close(s.done)
	}
}

func (t *topic[T]) publish(ctx context.Context, v T) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrBusClosed
	}
	subs := make([]*subscriber[T], 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.inbox <- v:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *topic[T]) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for s := range t.subs {
		delete(t.subs, s)
		close(s.done)
	}
}
