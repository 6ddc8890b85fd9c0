package pipeline

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AlertStore is satisfied by *store.TimescaleStore.
type AlertStore interface {
	InsertAlert(ctx context.Context, containerID string, alertType domain.AlertType, severity domain.AlertSeverity, triggerValue float64) error
}

// AlertNotifier is satisfied by *store.RedisStore.
type AlertNotifier interface {
	CheckAlertDedup(ctx context.Context, containerID string, alertType domain.AlertType) (bool, error)
	SetAlertDedup(ctx context.Context, containerID string, alertType domain.AlertType) error
	PublishAlert(ctx context.Context, payload []byte) error
}

type AlertEvaluator struct {
	ch     <-chan *domain.TelemetryMessage
	db     AlertStore
	redis  AlertNotifier
	rules  []domain.AlertRule
	logger *zap.Logger
}

func NewAlertEvaluator(
	ch <-chan *domain.TelemetryMessage,
	db AlertStore,
	redis AlertNotifier,
	logger *zap.Logger,
) *AlertEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertEvaluator{
		ch:     ch,
		db:     db,
		redis:  redis,
		rules:  domain.DefaultAlertRules,
		logger: logger,
	}
}

func (e *AlertEvaluator) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-e.ch:
			if !ok {
				return
			}
			e.evaluate(context.WithoutCancel(ctx), msg)

		case <-ctx.Done():
			return
		}
	}
}

func (e *AlertEvaluator) evaluate(ctx context.Context, msg *domain.TelemetryMessage) {
	containerID := msg.Record.ContainerID
	for _, rule := range e.rules {
		if !rule.Evaluator(msg) {
			continue
		}

		isDuplicate, err := e.redis.CheckAlertDedup(ctx, containerID, rule.Type)
		if err != nil {
			e.logger.Warn("alert dedup check failed", zap.String("iso6346", containerID), zap.String("alert", string(rule.Type)), zap.Error(err))
			continue
		}
		if isDuplicate {
			continue
		}

		triggerValue := rule.Value(msg)

		if err := e.db.InsertAlert(ctx, containerID, rule.Type, rule.Severity, triggerValue); err != nil {
			e.logger.Error("alert insert failed", zap.String("iso6346", containerID), zap.Error(err))
			continue
		}

		if err := e.redis.SetAlertDedup(ctx, containerID, rule.Type); err != nil {
			e.logger.Warn("alert dedup set failed", zap.String("iso6346", containerID), zap.Error(err))
		}

		alertPayload, _ := json.Marshal(map[string]interface{}{
			"iso6346":      containerID,
			"msisdn":       msg.Record.SubscriberID,
			"alert_type":   string(rule.Type),
			"severity":     string(rule.Severity),
			"value":        triggerValue,
			"triggered_at": time.Now().Unix(),
		})
		if err := e.redis.PublishAlert(ctx, alertPayload); err != nil {
			e.logger.Warn("alert publish failed", zap.String("iso6346", containerID), zap.Error(err))
		}
	}
}
