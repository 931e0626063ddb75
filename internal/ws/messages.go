package ws

// Message types exchanged over the client connection.
const (
	TypeConnect         = "connect"
	TypeSubscribe       = "subscribe"
	TypeSubscribeAlerts = "subscribe_alerts"
	TypePing            = "ping"
	TypePong            = "pong"

	TypePriceUpdate      = "price_update"
	TypeAlertTriggered   = "alert_triggered"
	TypeConnectionStatus = "connection_status"
)

// Envelope is the client -> server message shape. Symbols and Currency
// only apply to subscribe requests.
type Envelope struct {
	Type     string   `json:"type"`
	Symbols  []string `json:"symbols,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Message is the server -> client envelope.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// PriceUpdateData is the payload of a price_update message. Price is in
// the connection's display currency (USD when unconverted).
type PriceUpdateData struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	Timestamp          string  `json:"timestamp"`
	TimestampFormatted string  `json:"timestamp_formatted"`
}

// TriggeredAlert is the client-facing view of a fired alert.
type TriggeredAlert struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	AlertType      string  `json:"alert_type"`
	ThresholdPrice float64 `json:"threshold_price"`
	Message        string  `json:"message"`
}

// AlertTriggeredData is the payload of an alert_triggered message.
type AlertTriggeredData struct {
	Alert TriggeredAlert `json:"alert"`
}

// ConnectionStatusData is sent once after the handshake.
type ConnectionStatusData struct {
	ConnectionID string `json:"connection_id"`
	Status       string `json:"status"`
}
