package ws

import (
	"encoding/json"
	"sync"
	"time"

	"pricestream/internal/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Client commands are small; anything larger is malformed.
	maxMessageSize = 4096

	sendBufferSize = 32
)

// Client is one live browser connection. The hub owns the clients map
// and the symbol index (including c.symbols); the client's own mutex
// guards its state, display currency, alerts flag and send channel.
type Client struct {
	id   string
	conn *websocket.Conn

	mu         sync.Mutex
	state      State
	currency   string
	alerts     bool
	lastActive time.Time

	// symbols is mutated only while holding the hub lock.
	symbols map[string]struct{}

	send chan Message
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:       conn,
		state:      StateConnecting,
		symbols:    make(map[string]struct{}),
		send:       make(chan Message, sendBufferSize),
		lastActive: time.Now(),
	}
}

// ID returns the identifier assigned at registration.
func (c *Client) ID() string {
	return c.id
}

// Currency returns the display currency requested by this connection,
// or "" for the base currency.
func (c *Client) Currency() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currency
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setCurrency(currency string) {
	c.mu.Lock()
	c.currency = currency
	c.mu.Unlock()
}

func (c *Client) setAlerts(on bool) {
	c.mu.Lock()
	c.alerts = on
	c.mu.Unlock()
}

func (c *Client) alertsSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts
}

func (c *Client) markActive() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// transition moves the state machine; illegal moves are refused.
func (c *Client) transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return false
	}
	c.state = next
	return true
}

// trySend queues a message without blocking. It returns false when the
// connection is not open or its buffer is full; the caller decides
// whether that means dropping the message or unregistering.
func (c *Client) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown finalizes the connection: once per client, it moves to
// closed, releases the send channel and closes the transport.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// writePump drains the send channel onto the wire and emits keepalive
// pings. A write failure unregisters the connection; everyone else's
// fan-out is unaffected.
func (c *Client) writePump(hub *Hub, pingInterval, sendTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("client send failed, unregistering",
					zap.String("connection_id", c.id),
					zap.Error(err),
				)
				hub.Unregister(c.id)
				return
			}
			wsMessagesSentTotal.Inc()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.conn.WriteJSON(Message{Type: TypePing}); err != nil {
				hub.Unregister(c.id)
				return
			}
		}
	}
}

// readPump consumes client commands until the connection dies, then
// unregisters it. The read deadline is pushed forward by any inbound
// traffic, pongs included.
func (c *Client) readPump(s *Server) {
	defer s.hub.Unregister(c.id)

	pongWait := s.pingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log.Debug("client read error",
					zap.String("connection_id", c.id),
					zap.Error(err),
				)
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.markActive()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Log.Debug("ignoring malformed client message",
				zap.String("connection_id", c.id),
				zap.Error(err),
			)
			continue
		}

		s.handleEnvelope(c, env)
	}
}
