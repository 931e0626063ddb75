package store

import (
	"strings"
	"sync"
	"time"
)

// Rates maps a currency code to the multiplier from the base currency.
// The whole table is replaced on each successful refresh; a failed
// refresh leaves the previous table in place, so readers always see a
// complete snapshot even if it is stale.
type Rates struct {
	base string

	mu        sync.RWMutex
	m         map[string]float64
	updatedAt time.Time
}

func NewRates(base string) *Rates {
	return &Rates{base: strings.ToUpper(base), m: make(map[string]float64)}
}

// Base returns the base currency code.
func (r *Rates) Base() string {
	return r.base
}

// Replace swaps in a fresh rate table.
func (r *Rates) Replace(rates map[string]float64) {
	fresh := make(map[string]float64, len(rates))
	for code, rate := range rates {
		fresh[strings.ToUpper(code)] = rate
	}

	r.mu.Lock()
	r.m = fresh
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// Rate returns the multiplier from base currency to the given
// currency. The base currency itself is always 1.
func (r *Rates) Rate(currency string) (float64, bool) {
	code := strings.ToUpper(currency)
	if code == "" || code == r.base {
		return 1, true
	}

	r.mu.RLock()
	rate, ok := r.m[code]
	r.mu.RUnlock()
	return rate, ok
}

// UpdatedAt reports when the table was last replaced; zero if never.
func (r *Rates) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}
