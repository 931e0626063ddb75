package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pricestream/internal/logger"
	"pricestream/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var rateRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_refresh_total",
		Help: "Total number of exchange rate refresh attempts",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(rateRefreshTotal)
}

// ratesResponse is the relevant slice of the external rates API payload.
type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// Refresher periodically replaces the rate table from an external API.
// A failed refresh is logged and the previous table keeps serving.
type Refresher struct {
	url      string
	interval time.Duration
	rates    *store.Rates
	client   *http.Client
}

func NewRefresher(url string, interval time.Duration, rates *store.Rates) *Refresher {
	return &Refresher{
		url:      url,
		interval: interval,
		rates:    rates,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Run refreshes once immediately, then on every interval tick until the
// context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.RefreshNow(ctx); err != nil {
		logger.Log.Error("initial rate refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshNow(ctx); err != nil {
				logger.Log.Error("rate refresh failed, serving stale rates",
					zap.Time("last_success", r.rates.UpdatedAt()),
					zap.Error(err),
				)
			}
		}
	}
}

// RefreshNow fetches the full rate table and replaces the cache.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("rates API returned status %d", resp.StatusCode)
	}

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("decode rates response: %w", err)
	}

	if len(payload.Rates) == 0 {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("rates API returned no rates")
	}

	r.rates.Replace(payload.Rates)
	rateRefreshTotal.WithLabelValues("success").Inc()

	logger.Log.Info("exchange rates refreshed",
		zap.Int("currencies", len(payload.Rates)),
	)
	return nil
}
