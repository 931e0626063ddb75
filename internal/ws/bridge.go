package ws

import (
	"context"
	"encoding/json"
	"time"

	"pricestream/internal/cache"
	"pricestream/internal/logger"

	"go.uber.org/zap"
)

// Redis channel carrying triggered alerts between gateway instances.
const alertsChannel = "alert.events"

// PublishAlert hands a triggered alert to Redis so every gateway
// instance, this one included, can push it to its alert subscribers.
func PublishAlert(ctx context.Context, alert TriggeredAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return cache.PublishMessage(ctx, alertsChannel, string(payload))
}

// RunAlertBridge subscribes to the alert channel and broadcasts each
// event to the local hub until the context is cancelled.
func RunAlertBridge(ctx context.Context, hub *Hub) {
	sub, err := cache.NewRedisSubscriber(ctx, alertsChannel)
	if err != nil {
		logger.Log.Error("failed to create alert subscriber", zap.Error(err))
		return
	}
	defer sub.Close()

	logger.Log.Info("listening for triggered alerts")

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("error receiving alert message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var alert TriggeredAlert
		if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
			logger.Log.Error("error unmarshaling alert message", zap.Error(err))
			continue
		}

		logger.Log.Info("broadcasting triggered alert",
			zap.String("alert_id", alert.ID),
			zap.String("symbol", alert.Symbol),
		)
		hub.BroadcastAlert(alert)
	}
}
