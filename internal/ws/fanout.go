package ws

import (
	"time"

	"pricestream/internal/logger"
	"pricestream/internal/store"

	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// Fanout pushes each price tick to every interested connection,
// converted to that connection's display currency.
type Fanout struct {
	hub   *Hub
	rates *store.Rates
}

func NewFanout(hub *Hub, rates *store.Rates) *Fanout {
	return &Fanout{hub: hub, rates: rates}
}

// Publish delivers one tick. Sends are independent and non-blocking: a
// slow or dead connection costs a dropped message, never a stalled
// tick for the other subscribers.
func (f *Fanout) Publish(symbol string, price float64, ts time.Time) {
	subs := f.hub.ConnectionsForSymbol(symbol)
	if len(subs) == 0 {
		return
	}

	for _, c := range subs {
		msg := Message{
			Type: TypePriceUpdate,
			Data: PriceUpdateData{
				Symbol:             symbol,
				Price:              convert(price, c.Currency(), f.rates),
				Timestamp:          ts.UTC().Format(time.RFC3339),
				TimestampFormatted: ts.UTC().Format(timestampLayout),
			},
		}
		if !c.trySend(msg) {
			wsMessagesDroppedTotal.Inc()
			logger.Log.Debug("price message dropped",
				zap.String("connection_id", c.ID()),
				zap.String("symbol", symbol),
			)
		}
	}
}

// convert applies the display currency rate to a base currency price.
// An unknown currency passes the base price through rather than failing
// the tick.
func convert(price float64, currency string, rates *store.Rates) float64 {
	rate, ok := rates.Rate(currency)
	if !ok {
		logger.Log.Warn("unknown display currency, serving base price",
			zap.String("currency", currency),
		)
		return price
	}
	return price * rate
}
