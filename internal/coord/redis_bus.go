package coord

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PubSub is a raw publish/subscribe transport. *store.RedisStore implements it.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RedisBus encodes commands and reports as JSON on two pub/sub channels
// scoped by namespace, so concurrent test runs do not see each other.
type RedisBus struct {
	ps      PubSub
	control string
	reports string
	logger  *zap.Logger
}

func NewRedisBus(ps PubSub, namespace string, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		ps:      ps,
		control: fmt.Sprintf("loadgen:%s:control", namespace),
		reports: fmt.Sprintf("loadgen:%s:reports", namespace),
		logger:  logger.With(zap.String("component", "bus")),
	}
}

func (b *RedisBus) PublishCommand(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("coord: marshal command: %w", err)
	}
	return b.ps.Publish(ctx, b.control, payload)
}

func (b *RedisBus) SubscribeCommands(ctx context.Context) (<-chan Command, error) {
	return subscribeJSON[Command](ctx, b.ps, b.control, b.logger)
}

func (b *RedisBus) PublishReport(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("coord: marshal report: %w", err)
	}
	return b.ps.Publish(ctx, b.reports, payload)
}

func (b *RedisBus) SubscribeReports(ctx context.Context) (<-chan Report, error) {
	return subscribeJSON[Report](ctx, b.ps, b.reports, b.logger)
}

func subscribeJSON[T any](ctx context.Context, ps PubSub, channel string, logger *zap.Logger) (<-chan T, error) {
	raw, err := ps.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("coord: subscribe %s: %w", channel, err)
	}

	out := make(chan T)
	go func() {
		defer close(out)
		for payload := range raw {
			var v T
			if err := json.Unmarshal(payload, &v); err != nil {
				logger.Warn("dropping undecodable message", zap.String("channel", channel), zap.Error(err))
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
