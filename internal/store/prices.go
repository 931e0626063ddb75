package store

import (
	"sync"
	"time"

	"pricestream/internal/models"
)

// Prices holds the latest known price per symbol, in base currency.
// Single writer (the Kafka consume loop), many readers.
type Prices struct {
	mu sync.RWMutex
	m  map[string]models.PricePoint
}

func NewPrices() *Prices {
	return &Prices{m: make(map[string]models.PricePoint)}
}

// Set overwrites the current price for a symbol.
func (p *Prices) Set(symbol string, price float64, ts time.Time) {
	p.mu.Lock()
	p.m[symbol] = models.PricePoint{Symbol: symbol, Price: price, Timestamp: ts}
	p.mu.Unlock()
}

// Get returns the current price point for a symbol, if one exists.
func (p *Prices) Get(symbol string) (models.PricePoint, bool) {
	p.mu.RLock()
	pt, ok := p.m[symbol]
	p.mu.RUnlock()
	return pt, ok
}
