package models

import (
	"time"
)

// Alert directions. Thresholds are inclusive on both sides.
const (
	AlertTypeAbove = "ABOVE"
	AlertTypeBelow = "BELOW"
)

// Alert represents a one-shot price alert. ThresholdBase is the
// threshold expressed in the base currency (USD) and is the value used
// for comparison; ThresholdPrice/Currency record what the user typed.
type Alert struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Symbol         string    `json:"symbol" db:"symbol"`
	AlertType      string    `json:"alert_type" db:"alert_type"`
	ThresholdPrice float64   `json:"threshold_price" db:"threshold_price"`
	Currency       string    `json:"currency" db:"currency"`
	ThresholdBase  float64   `json:"threshold_base" db:"threshold_base"`
	Message        string    `json:"message" db:"message"`
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AlertHistory is the immutable record of one trigger.
type AlertHistory struct {
	ID          string    `json:"id" db:"id"`
	AlertID     string    `json:"alert_id" db:"alert_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Price       float64   `json:"price" db:"price"`
	Threshold   float64   `json:"threshold" db:"threshold"`
	AlertType   string    `json:"alert_type" db:"alert_type"`
	Message     string    `json:"message" db:"message"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
}

// PricePoint is the latest known price for a symbol, in base currency.
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceUpdate is the wire format on the price.updates Kafka topic.
type PriceUpdate struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// TelegramCredentials is a per-user delivery credential pair. Either
// field may be empty, in which case the process-wide default applies.
type TelegramCredentials struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Complete reports whether both fields are usable.
func (c TelegramCredentials) Complete() bool {
	return c.BotToken != "" && c.ChatID != ""
}
