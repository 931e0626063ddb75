package ws

import (
	"strings"
	"sync"

	"pricestream/internal/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Number of live client connections",
		},
	)
	wsMessagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total number of messages written to clients",
		},
	)
	wsMessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_dropped_total",
			Help: "Total number of messages dropped for slow or closed clients",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections)
	prometheus.MustRegister(wsMessagesSentTotal)
	prometheus.MustRegister(wsMessagesDroppedTotal)
}

// Hub is the connection registry: it owns every live client, the
// per-symbol subscriber index and the alerts flag bookkeeping.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	bySymbol map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		bySymbol: make(map[string]map[string]*Client),
	}
}

// Register adds a connection in the open state and returns its id.
func (h *Hub) Register(c *Client) string {
	id := uuid.New().String()
	c.id = id
	c.transition(StateOpen)

	h.mu.Lock()
	h.clients[id] = c
	total := len(h.clients)
	h.mu.Unlock()

	wsConnections.Inc()
	logger.Log.Info("client connected",
		zap.String("connection_id", id),
		zap.Int("total_clients", total),
	)
	return id
}

// Unregister removes a connection and all of its subscriptions. It is
// idempotent: an unknown id is a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	for symbol := range c.symbols {
		if subs, ok := h.bySymbol[symbol]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.bySymbol, symbol)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.transition(StateClosing)
	c.shutdown()

	wsConnections.Dec()
	logger.Log.Info("client disconnected",
		zap.String("connection_id", id),
		zap.Int("total_clients", total),
	)
}

// SubscribePrices unions symbols into the connection's subscribed set
// and records its display currency. An unknown id is a no-op; the
// client may have disconnected while the request was in flight.
func (h *Hub) SubscribePrices(id string, symbols []string, currency string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		c.symbols[symbol] = struct{}{}
		if h.bySymbol[symbol] == nil {
			h.bySymbol[symbol] = make(map[string]*Client)
		}
		h.bySymbol[symbol][id] = c
	}
	h.mu.Unlock()

	if currency != "" {
		c.setCurrency(strings.ToUpper(strings.TrimSpace(currency)))
	}

	logger.Log.Debug("price subscription updated",
		zap.String("connection_id", id),
		zap.Strings("symbols", symbols),
		zap.String("currency", currency),
	)
}

// SubscribeAlerts marks the connection as wanting alert_triggered
// messages. Unknown id is a no-op.
func (h *Hub) SubscribeAlerts(id string) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.setAlerts(true)
}

// ConnectionsForSymbol returns every open connection subscribed to the
// symbol. The slice is a snapshot; a concurrent disconnect only causes
// a skipped send.
func (h *Hub) ConnectionsForSymbol(symbol string) []*Client {
	symbol = strings.ToUpper(symbol)

	h.mu.RLock()
	subs := h.bySymbol[symbol]
	out := make([]*Client, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	h.mu.RUnlock()
	return out
}

// AlertSubscribers returns every open connection with the alerts flag.
func (h *Hub) AlertSubscribers() []*Client {
	h.mu.RLock()
	out := make([]*Client, 0)
	for _, c := range h.clients {
		if c.alertsSubscribed() {
			out = append(out, c)
		}
	}
	h.mu.RUnlock()
	return out
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAlert pushes an alert_triggered message to every alert
// subscriber. Each send is independent; slow clients drop the message.
func (h *Hub) BroadcastAlert(alert TriggeredAlert) {
	subs := h.AlertSubscribers()
	if len(subs) == 0 {
		return
	}

	msg := Message{Type: TypeAlertTriggered, Data: AlertTriggeredData{Alert: alert}}
	for _, c := range subs {
		if !c.trySend(msg) {
			wsMessagesDroppedTotal.Inc()
			logger.Log.Warn("alert message dropped",
				zap.String("connection_id", c.ID()),
				zap.String("alert_id", alert.ID),
			)
		}
	}
}
