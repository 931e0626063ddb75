package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pricestream/internal/alerts"
	"pricestream/internal/cache"
	"pricestream/internal/config"
	"pricestream/internal/database"
	"pricestream/internal/logger"
	"pricestream/internal/models"
	"pricestream/internal/notify"
	"pricestream/internal/rates"
	"pricestream/internal/store"
	"pricestream/internal/tracing"
	"pricestream/internal/ws"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var priceUpdatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "price_updates_total",
		Help: "Total number of price updates consumed",
	},
)

func init() {
	prometheus.MustRegister(priceUpdatesTotal)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	if err := cache.InitRedis(cfg.RedisAddr); err != nil {
		logger.Log.Fatal("failed to connect to Redis", zap.Error(err))
	}

	if err := database.InitDB(cfg.DatabaseURL); err != nil {
		logger.Log.Fatal("failed to initialize database", zap.Error(err))
	}

	shutdown, err := tracing.InitTracer()
	if err != nil {
		logger.Log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Log.Error("failed to shutdown tracer", zap.Error(err))
		}
	}()

	prices := store.NewPrices()
	rateStore := store.NewRates("USD")

	refresher := rates.NewRefresher(cfg.RatesURL, cfg.RateRefreshInterval, rateStore)
	go refresher.Run(ctx)

	hub := ws.NewHub()
	go ws.RunAlertBridge(ctx, hub)

	limiter := redis_rate.NewLimiter(cache.RedisClient)
	dispatcher := notify.NewDispatcher(
		database.Store{},
		models.TelegramCredentials{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID},
		cfg.SendTimeout,
		limiter,
		cfg.NotifyPerMinute,
	)
	go dispatcher.Run(ctx)

	evaluator := alerts.NewEvaluator(database.Store{}, dispatcher, redisBroadcaster{})
	fan := ws.NewFanout(hub, rateStore)

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"group.id":          cfg.KafkaGroupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		logger.Log.Fatal("failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	if err := consumer.Subscribe(cfg.KafkaTopic, nil); err != nil {
		logger.Log.Fatal("failed to subscribe to Kafka topic", zap.Error(err))
	}

	go consumeTicks(ctx, consumer, prices, fan, evaluator)

	server := ws.NewServer(hub, prices, rateStore, cfg.PingInterval, cfg.SendTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.Handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/notify/test", testNotificationHandler(dispatcher))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Log.Info("gateway starting",
		zap.String("port", cfg.Port),
		zap.String("instance", cfg.Instance),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatal("http server failed", zap.Error(err))
	}
}

// consumeTicks is the single writer of the price cache. Fan-out runs
// inline because its sends never block; alert evaluation runs on its
// own worker so slow persistence cannot stall the tick pipeline while
// per-symbol ordering is preserved.
func consumeTicks(ctx context.Context, consumer *kafka.Consumer, prices *store.Prices, fan *ws.Fanout, evaluator *alerts.Evaluator) {
	evalTicks := make(chan models.PricePoint, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-evalTicks:
				evaluator.Evaluate(ctx, tick.Symbol, tick.Price, tick.Timestamp)
			}
		}
	}()

	for ctx.Err() == nil {
		msg, err := consumer.ReadMessage(100 * time.Millisecond)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.IsTimeout() {
				continue
			}
			logger.Log.Error("Kafka consumer error", zap.Error(err))
			continue
		}

		var update models.PriceUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			logger.Log.Error("error parsing price update", zap.Error(err))
			continue
		}

		ts, err := time.Parse(time.RFC3339, update.Timestamp)
		if err != nil {
			ts = time.Now()
		}

		priceUpdatesTotal.Inc()
		prices.Set(update.Symbol, update.Price, ts)

		fan.Publish(update.Symbol, update.Price, ts)

		tick := models.PricePoint{Symbol: update.Symbol, Price: update.Price, Timestamp: ts}
		select {
		case evalTicks <- tick:
		default:
			logger.Log.Warn("alert evaluation backlog full, tick skipped",
				zap.String("symbol", update.Symbol),
			)
		}
	}
}

// redisBroadcaster routes fired alerts through Redis pub/sub so every
// gateway instance delivers them to its own alert subscribers.
type redisBroadcaster struct{}

func (redisBroadcaster) AlertTriggered(ctx context.Context, alert ws.TriggeredAlert) {
	if err := ws.PublishAlert(ctx, alert); err != nil {
		logger.Log.Error("failed to publish triggered alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

type testNotifyRequest struct {
	UserID string `json:"user_id"`
}

type testNotifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// testNotificationHandler lets the profile UI verify a user's saved
// credential pair with a fixed payload.
func testNotificationHandler(dispatcher *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req testNotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		ok, message := dispatcher.Test(r.Context(), req.UserID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testNotifyResponse{Success: ok, Message: message})
	}
}
