package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	containerStateTTL = 30 * time.Second
	alertDedupTTL     = 5 * time.Minute
	subscribeBuffer   = 64

	geoKey           = "containers:geo"
	telemetryChannel = "containers:telemetry"
	alertsChannel    = "containers:alerts"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Publish and Subscribe carry the load generator's control bus.

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s failed: %w", channel, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so
// messages published after it returns are delivered. The channel closes when
// ctx is done.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe %s failed: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WorkerRegistry tracks live workers in a sorted set scored by last heartbeat.
type WorkerRegistry struct {
	client *redis.Client
	key    string
}

func (r *RedisStore) WorkerRegistry(namespace string) *WorkerRegistry {
	return &WorkerRegistry{client: r.client, key: fmt.Sprintf("loadgen:%s:workers", namespace)}
}

func (w *WorkerRegistry) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	now := time.Now()
	pipe := w.client.Pipeline()
	pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(now.UnixMilli()), Member: workerID})
	pipe.ZRemRangeByScore(ctx, w.key, "-inf", staleBefore(now, ttl))
	pipe.Expire(ctx, w.key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("worker heartbeat failed: %w", err)
	}
	return nil
}

// staleBefore is the exclusive upper score bound of dead workers: a heartbeat
// exactly ttl old still counts as live.
func staleBefore(now time.Time, ttl time.Duration) string {
	return fmt.Sprintf("(%d", now.Add(-ttl).UnixMilli())
}

func (w *WorkerRegistry) Live(ctx context.Context) ([]string, error) {
	ids, err := w.client.ZRange(ctx, w.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list workers failed: %w", err)
	}
	return ids, nil
}

func (r *RedisStore) PipelineStateUpdate(ctx context.Context, msg *domain.TelemetryMessage) error {
	rec := msg.Record
	stateData := map[string]interface{}{
		"iso6346":     rec.ContainerID,
		"msisdn":      rec.SubscriberID,
		"lat":         rec.Latitude,
		"lng":         rec.Longitude,
		"temperature": rec.Temperature,
		"humidity":    rec.Humidity,
		"bat_soc":     rec.BatteryPct,
		"door":        string(rec.Door),
		"gnss":        rec.GNSSStatus,
		"rssi":        rec.SignalStrength,
		"time":        rec.Timestamp,
		"received_at": msg.ReceivedAt.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("container:%s:state", rec.ContainerID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, containerStateTTL)
	if rec.GNSSStatus == 1 {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      rec.ContainerID,
			Longitude: float64(rec.Longitude),
			Latitude:  float64(rec.Latitude),
		})
	}
	pipe.Publish(ctx, telemetryChannel, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// GetAPIKey returns the owner registered for apiKey, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("container:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) CheckAlertDedup(ctx context.Context, containerID string, alertType domain.AlertType) (bool, error) {
	key := fmt.Sprintf("alert:%s:%s", containerID, string(alertType))
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAlertDedup(ctx context.Context, containerID string, alertType domain.AlertType) error {
	key := fmt.Sprintf("alert:%s:%s", containerID, string(alertType))
	return r.client.Set(ctx, key, "1", alertDedupTTL).Err()
}

func (r *RedisStore) PublishAlert(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, alertsChannel, payload).Err()
}
