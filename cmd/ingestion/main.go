package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"pricestream/internal/backoff"
	"pricestream/internal/config"
	"pricestream/internal/logger"
	"pricestream/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Coinbase WebSocket message format
type subscriptionMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Trade message structure from Coinbase
type tradeMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
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

	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": cfg.KafkaBrokers})
	if err != nil {
		logger.Log.Fatal("failed to create Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	for ctx.Err() == nil {
		c := connectWebSocket(ctx, cfg.CoinbaseWSURL)
		if c == nil {
			return
		}

		if err := runFeed(ctx, c, producer, cfg); err != nil {
			logger.Log.Warn("feed interrupted, reconnecting", zap.Error(err))
		}
		c.Close()
	}
}

// runFeed subscribes to trades and forwards them to Kafka until the
// connection breaks or the context is cancelled.
func runFeed(ctx context.Context, c *websocket.Conn, producer *kafka.Producer, cfg config.Config) error {
	subscribe := subscriptionMessage{
		Type:       "subscribe",
		ProductIDs: cfg.ProductIDs,
		Channels:   []string{"matches"},
	}
	if err := c.WriteJSON(subscribe); err != nil {
		return err
	}
	logger.Log.Info("subscribed to trade feed", zap.Strings("products", cfg.ProductIDs))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, message, err := c.ReadMessage()
		if err != nil {
			return err
		}

		var trade tradeMessage
		if err := json.Unmarshal(message, &trade); err != nil {
			logger.Log.Debug("skipping unparseable message", zap.Error(err))
			continue
		}

		// Only "match" messages are completed trades.
		if trade.Type != "match" {
			continue
		}

		price, err := strconv.ParseFloat(trade.Price, 64)
		if err != nil {
			logger.Log.Debug("skipping trade with bad price",
				zap.String("price", trade.Price),
				zap.Error(err),
			)
			continue
		}

		update := models.PriceUpdate{
			Exchange:  "coinbase",
			Symbol:    trade.ProductID,
			Price:     price,
			Timestamp: trade.Time,
		}
		publishToKafka(producer, cfg.KafkaTopic, update)
	}
}

// Publish message to Kafka
func publishToKafka(producer *kafka.Producer, topic string, update models.PriceUpdate) {
	value, err := json.Marshal(update)
	if err != nil {
		logger.Log.Error("error marshaling price update", zap.Error(err))
		return
	}

	err = producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
	}, nil)

	if err != nil {
		logger.Log.Error("error producing Kafka message",
			zap.String("symbol", update.Symbol),
			zap.Error(err),
		)
	}
}

// connectWebSocket dials the upstream feed, retrying with the backoff
// policy until it succeeds or the context is cancelled.
func connectWebSocket(ctx context.Context, url string) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		logger.Log.Info("connecting to upstream feed", zap.String("url", url))
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			logger.Log.Info("connected to upstream feed")
			return c
		}

		delay := backoff.Delay(attempt)
		logger.Log.Warn("feed connection failed",
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
