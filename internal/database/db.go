package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pricestream/internal/cache"
	"pricestream/internal/logger"
	"pricestream/internal/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var db *sql.DB

// Active alerts per symbol change rarely relative to tick rate, so the
// lookup is cached briefly; DeactivateAlert invalidates the symbol's
// entry so a fired alert is not evaluated again even within the TTL.
const alertCacheTTL = 30 * time.Second

const alertCachePrefix = "alerts:symbol:"

// InitDB initializes the database connection
func InitDB(connStr string) error {
	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return err
	}

	// Set connection pool parameters
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	logger.Log.Info("database connection established")
	return nil
}

// GetActiveAlertsBySymbol retrieves the active alerts for one symbol.
// Results pass through a short-lived Redis cache so a tick for a symbol
// with no alerts stays cheap.
func GetActiveAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error) {
	cacheKey := alertCachePrefix + symbol

	if cached, err := cache.GetCache(ctx, cacheKey, "alerts_by_symbol"); err == nil && cached != "" {
		var alerts []models.Alert
		if err := json.Unmarshal([]byte(cached), &alerts); err == nil {
			return alerts, nil
		}
	}

	query := `
		SELECT id, user_id, symbol, alert_type, threshold_price, currency, threshold_base, message, active, created_at, updated_at
		FROM alerts
		WHERE symbol = $1 AND active = true
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, symbol)
	if err != nil {
		logger.Log.Error("failed to query active alerts by symbol",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(alerts); err == nil {
		if cacheErr := cache.SetCache(ctx, cacheKey, string(encoded), alertCacheTTL); cacheErr != nil {
			logger.Log.Warn("failed to cache alerts for symbol",
				zap.String("symbol", symbol),
				zap.Error(cacheErr),
			)
		}
	}

	return alerts, nil
}

// DeactivateAlert performs the one-shot active -> inactive transition.
func DeactivateAlert(ctx context.Context, id string) error {
	query := `
		UPDATE alerts
		SET active = false, updated_at = $1
		WHERE id = $2 AND active = true
	`

	result, err := db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		logger.Log.Error("failed to deactivate alert",
			zap.String("alert_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("alert not found or already inactive")
	}

	return nil
}

// InvalidateAlertCache drops the cached alert list for a symbol.
func InvalidateAlertCache(ctx context.Context, symbol string) {
	cache.InvalidateByPrefix(ctx, alertCachePrefix+symbol)
}

// InsertAlertHistory appends one immutable trigger record.
func InsertAlertHistory(ctx context.Context, entry models.AlertHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alert_history (id, alert_id, user_id, symbol, price, threshold, alert_type, message, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.AlertID,
		entry.UserID,
		entry.Symbol,
		entry.Price,
		entry.Threshold,
		entry.AlertType,
		entry.Message,
		entry.TriggeredAt,
	)

	if err != nil {
		logger.Log.Error("failed to insert alert history",
			zap.String("alert_id", entry.AlertID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// GetUserTelegram retrieves a user's saved Telegram credential pair.
// Missing fields come back empty rather than as an error so the caller
// can fall back to the default pair.
func GetUserTelegram(ctx context.Context, userID string) (models.TelegramCredentials, error) {
	query := `
		SELECT telegram_bot_token, telegram_chat_id
		FROM users
		WHERE id = $1
	`

	var token, chatID sql.NullString
	err := db.QueryRowContext(ctx, query, userID).Scan(&token, &chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TelegramCredentials{}, nil
		}
		logger.Log.Error("failed to retrieve user telegram credentials",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return models.TelegramCredentials{}, err
	}

	return models.TelegramCredentials{
		BotToken: token.String,
		ChatID:   chatID.String,
	}, nil
}

// Helper function to scan alert rows
func scanAlerts(rows *sql.Rows) ([]models.Alert, error) {
	alerts := []models.Alert{}

	for rows.Next() {
		var alert models.Alert
		var message sql.NullString

		err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.Symbol,
			&alert.AlertType,
			&alert.ThresholdPrice,
			&alert.Currency,
			&alert.ThresholdBase,
			&message,
			&alert.Active,
			&alert.CreatedAt,
			&alert.UpdatedAt,
		)

		if err != nil {
			return nil, err
		}

		alert.Message = message.String
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

// Store adapts the package-level functions to the interfaces consumed
// by the alert evaluator and notification dispatcher.
type Store struct{}

func (Store) ActiveAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error) {
	return GetActiveAlertsBySymbol(ctx, symbol)
}

func (Store) DeactivateAlert(ctx context.Context, id, symbol string) error {
	if err := DeactivateAlert(ctx, id); err != nil {
		return err
	}
	InvalidateAlertCache(ctx, symbol)
	return nil
}

func (Store) InsertHistory(ctx context.Context, entry models.AlertHistory) error {
	return InsertAlertHistory(ctx, entry)
}

func (Store) UserTelegram(ctx context.Context, userID string) (models.TelegramCredentials, error) {
	return GetUserTelegram(ctx, userID)
}
