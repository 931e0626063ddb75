package ws

import (
	"net/http"
	"time"

	"pricestream/internal/logger"
	"pricestream/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP requests to client connections and drives each
// connection's read/write pumps.
type Server struct {
	hub    *Hub
	prices *store.Prices
	rates  *store.Rates

	pingInterval time.Duration
	sendTimeout  time.Duration

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, prices *store.Prices, rates *store.Rates, pingInterval, sendTimeout time.Duration) *Server {
	return &Server{
		hub:          hub,
		prices:       prices,
		rates:        rates,
		pingInterval: pingInterval,
		sendTimeout:  sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the portfolio UI origin;
			// auth happens upstream of this subsystem.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle is the /ws endpoint.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn)
	id := s.hub.Register(c)

	c.trySend(Message{
		Type: TypeConnectionStatus,
		Data: ConnectionStatusData{ConnectionID: id, Status: StateOpen.String()},
	})

	go c.writePump(s.hub, s.pingInterval, s.sendTimeout)
	go c.readPump(s)
}

// handleEnvelope dispatches one client command.
func (s *Server) handleEnvelope(c *Client, env Envelope) {
	switch env.Type {
	case TypeConnect:
		// Handshake no-op; the status message already went out.
	case TypePong:
		// Keepalive reply; readPump already refreshed the deadline.
	case TypeSubscribe:
		s.hub.SubscribePrices(c.ID(), env.Symbols, env.Currency)
		s.sendSnapshot(c, env.Symbols)
	case TypeSubscribeAlerts:
		s.hub.SubscribeAlerts(c.ID())
	default:
		logger.Log.Debug("unknown client message type",
			zap.String("connection_id", c.ID()),
			zap.String("type", env.Type),
		)
	}
}

// sendSnapshot pushes the last known price for freshly subscribed
// symbols so the client does not wait for the next tick to render.
func (s *Server) sendSnapshot(c *Client, symbols []string) {
	if s.prices == nil {
		return
	}
	for _, symbol := range symbols {
		pt, ok := s.prices.Get(symbol)
		if !ok {
			continue
		}
		c.trySend(Message{
			Type: TypePriceUpdate,
			Data: PriceUpdateData{
				Symbol:             pt.Symbol,
				Price:              convert(pt.Price, c.Currency(), s.rates),
				Timestamp:          pt.Timestamp.UTC().Format(time.RFC3339),
				TimestampFormatted: pt.Timestamp.UTC().Format(timestampLayout),
			},
		})
	}
}
