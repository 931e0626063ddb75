package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pricestream/internal/logger"
	"pricestream/internal/models"

	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

const queueSize = 256

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notification dispatch outcomes",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// CredentialStore resolves a user's saved credential pair.
type CredentialStore interface {
	UserTelegram(ctx context.Context, userID string) (models.TelegramCredentials, error)
}

// Dispatcher delivers alert messages to Telegram. Credentials are
// resolved on every dispatch so a user who just saved a personal pair
// is picked up without a restart. Delivery is best-effort: failures are
// logged and counted, never propagated to the price pipeline.
type Dispatcher struct {
	creds     CredentialStore
	defaults  models.TelegramCredentials
	apiBase   string
	client    *http.Client
	limiter   *redis_rate.Limiter
	perMinute int

	queue chan job
}

type job struct {
	userID string
	text   string
}

// NewDispatcher builds a dispatcher. limiter may be nil to disable
// per-user rate limiting.
func NewDispatcher(creds CredentialStore, defaults models.TelegramCredentials, sendTimeout time.Duration, limiter *redis_rate.Limiter, perMinute int) *Dispatcher {
	return &Dispatcher{
		creds:     creds,
		defaults:  defaults,
		apiBase:   defaultAPIBase,
		client:    &http.Client{Timeout: sendTimeout},
		limiter:   limiter,
		perMinute: perMinute,
		queue:     make(chan job, queueSize),
	}
}

// Run drains the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.Send(ctx, j.userID, j.text)
		}
	}
}

// Enqueue hands a message to the delivery worker without blocking the
// caller. A full queue drops the message; the alert state change has
// already been recorded and is authoritative.
func (d *Dispatcher) Enqueue(userID, text string) {
	select {
	case d.queue <- job{userID: userID, text: text}:
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		logger.Log.Warn("notification queue full, message dropped",
			zap.String("user_id", userID),
		)
	}
}

// Send resolves credentials and makes one delivery attempt. It reports
// success; any failure is logged and absorbed here.
func (d *Dispatcher) Send(ctx context.Context, userID, text string) bool {
	if d.limiter != nil && d.perMinute > 0 {
		res, err := d.limiter.Allow(ctx, "notify:"+userID, redis_rate.PerMinute(d.perMinute))
		if err == nil && res.Allowed == 0 {
			notificationsTotal.WithLabelValues("rate_limited").Inc()
			logger.Log.Warn("notification rate limited",
				zap.String("user_id", userID),
			)
			return false
		}
	}

	creds := d.resolve(ctx, userID)
	if !creds.Complete() {
		notificationsTotal.WithLabelValues("failed").Inc()
		logger.Log.Warn("no usable notification credentials",
			zap.String("user_id", userID),
		)
		return false
	}

	if err := d.sendTelegram(ctx, creds, text); err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		logger.Log.Error("notification delivery failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	notificationsTotal.WithLabelValues("sent").Inc()
	return true
}

// Test sends a fixed payload through the same credential resolution,
// for the profile screen's "test my setup" button.
func (d *Dispatcher) Test(ctx context.Context, userID string) (bool, string) {
	if d.Send(ctx, userID, "Test notification: your price alert setup works.") {
		return true, "test notification sent"
	}
	return false, "test notification failed, check your credentials"
}

// resolve returns the user's personal pair when both fields are set,
// otherwise the process-wide default pair.
func (d *Dispatcher) resolve(ctx context.Context, userID string) models.TelegramCredentials {
	creds, err := d.creds.UserTelegram(ctx, userID)
	if err != nil {
		logger.Log.Warn("credential lookup failed, using defaults",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return d.defaults
	}
	if creds.Complete() {
		return creds
	}
	return d.defaults
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (d *Dispatcher) sendTelegram(ctx context.Context, creds models.TelegramCredentials, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": creds.ChatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.apiBase, creds.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram returned status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}
