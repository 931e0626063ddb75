package alerts

import (
	"context"
	"fmt"
	"time"

	"pricestream/internal/logger"
	"pricestream/internal/models"
	"pricestream/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var alertsTriggeredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alerts_triggered_total",
		Help: "Total number of alerts fired",
	},
	[]string{"alert_type"},
)

func init() {
	prometheus.MustRegister(alertsTriggeredTotal)
}

// Store is the persistence surface the evaluator consumes.
type Store interface {
	ActiveAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error)
	DeactivateAlert(ctx context.Context, id, symbol string) error
	InsertHistory(ctx context.Context, entry models.AlertHistory) error
}

// Notifier accepts a rendered alert message for best-effort delivery.
type Notifier interface {
	Enqueue(userID, text string)
}

// Broadcaster distributes a fired alert to connected clients.
type Broadcaster interface {
	AlertTriggered(ctx context.Context, alert ws.TriggeredAlert)
}

// Evaluator decides which active alerts fire on each price tick.
type Evaluator struct {
	store     Store
	notifier  Notifier
	broadcast Broadcaster
}

func NewEvaluator(store Store, notifier Notifier, broadcast Broadcaster) *Evaluator {
	return &Evaluator{store: store, notifier: notifier, broadcast: broadcast}
}

// Evaluate runs one tick for a symbol against its active alerts. The
// price is in base currency, as is each alert's comparison threshold.
// Every fired alert is handled in isolation: mark inactive first, then
// record history, then notify, so a failure or crash between steps
// never notifies for an alert that was not durably fired.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, price float64, ts time.Time) {
	ctx, span := otel.Tracer("pricestream").Start(ctx, "EvaluateAlerts")
	defer span.End()

	alerts, err := e.store.ActiveAlertsBySymbol(ctx, symbol)
	if err != nil {
		logger.Log.Error("failed to fetch alerts for symbol",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}
	if len(alerts) == 0 {
		return
	}

	fired := make(map[string]struct{})
	for _, alert := range alerts {
		if !alert.Active {
			continue
		}
		if _, done := fired[alert.ID]; done {
			continue
		}
		if !crosses(alert, price) {
			continue
		}
		fired[alert.ID] = struct{}{}
		e.fire(ctx, alert, price, ts)
	}
}

// crosses applies the inclusive threshold test against the alert's
// base-currency-equivalent threshold.
func crosses(alert models.Alert, price float64) bool {
	switch alert.AlertType {
	case models.AlertTypeAbove:
		return price >= alert.ThresholdBase
	case models.AlertTypeBelow:
		return price <= alert.ThresholdBase
	default:
		logger.Log.Warn("alert with unknown type skipped",
			zap.String("alert_id", alert.ID),
			zap.String("alert_type", alert.AlertType),
		)
		return false
	}
}

func (e *Evaluator) fire(ctx context.Context, alert models.Alert, price float64, ts time.Time) {
	if err := e.store.DeactivateAlert(ctx, alert.ID, alert.Symbol); err != nil {
		// Not durably fired; skip history and notification so a retry
		// on the next tick cannot double-notify.
		logger.Log.Error("failed to deactivate fired alert",
			zap.String("alert_id", alert.ID),
			zap.String("symbol", alert.Symbol),
			zap.Error(err),
		)
		return
	}

	alertsTriggeredTotal.WithLabelValues(alert.AlertType).Inc()
	logger.Log.Info("alert fired",
		zap.String("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.String("alert_type", alert.AlertType),
		zap.Float64("price", price),
		zap.Float64("threshold", alert.ThresholdBase),
	)

	entry := models.AlertHistory{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		Symbol:      alert.Symbol,
		Price:       price,
		Threshold:   alert.ThresholdBase,
		AlertType:   alert.AlertType,
		Message:     alert.Message,
		TriggeredAt: ts,
	}
	if err := e.store.InsertHistory(ctx, entry); err != nil {
		// The alert is already inactive; the trigger stands.
		logger.Log.Error("failed to record alert history",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}

	e.notifier.Enqueue(alert.UserID, renderMessage(alert, price))

	e.broadcast.AlertTriggered(ctx, ws.TriggeredAlert{
		ID:             alert.ID,
		Symbol:         alert.Symbol,
		AlertType:      alert.AlertType,
		ThresholdPrice: alert.ThresholdPrice,
		Message:        alert.Message,
	})
}

func renderMessage(alert models.Alert, price float64) string {
	direction := "above"
	if alert.AlertType == models.AlertTypeBelow {
		direction = "below"
	}
	text := fmt.Sprintf("%s crossed %s %.2f (price %.2f)",
		alert.Symbol, direction, alert.ThresholdBase, price)
	if alert.Message != "" {
		text += "\n" + alert.Message
	}
	return text
}
