package ws

import (
	"testing"
	"time"

	"pricestream/internal/store"
)

func drainPriceUpdates(t *testing.T, c *Client) []PriceUpdateData {
	t.Helper()
	var updates []PriceUpdateData
	for {
		select {
		case msg := <-c.send:
			if msg.Type != TypePriceUpdate {
				t.Fatalf("unexpected message type %q", msg.Type)
			}
			data, ok := msg.Data.(PriceUpdateData)
			if !ok {
				t.Fatalf("unexpected payload type %T", msg.Data)
			}
			updates = append(updates, data)
		default:
			return updates
		}
	}
}

func TestPublishDeliversOneMessagePerSubscriber(t *testing.T) {
	hub := NewHub()
	rates := store.NewRates("USD")
	fan := NewFanout(hub, rates)

	c := newClient(nil)
	id := hub.Register(c)
	hub.SubscribePrices(id, []string{"BTC-USD", "ETH-USD"}, "")

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	fan.Publish("BTC-USD", 50000, now)

	updates := drainPriceUpdates(t, c)
	if len(updates) != 1 {
		t.Fatalf("received %d price updates, want 1", len(updates))
	}
	got := updates[0]
	if got.Symbol != "BTC-USD" {
		t.Fatalf("symbol = %q, want BTC-USD", got.Symbol)
	}
	if got.Price != 50000 {
		t.Fatalf("price = %v, want 50000", got.Price)
	}
	if got.Timestamp != "2026-03-14T10:30:00Z" {
		t.Fatalf("timestamp = %q", got.Timestamp)
	}
	if got.TimestampFormatted == "" {
		t.Fatal("expected a formatted timestamp")
	}
}

func TestPublishSkipsNonSubscribers(t *testing.T) {
	hub := NewHub()
	fan := NewFanout(hub, store.NewRates("USD"))

	c := newClient(nil)
	id := hub.Register(c)
	hub.SubscribePrices(id, []string{"ETH-USD"}, "")

	fan.Publish("BTC-USD", 50000, time.Now())

	if updates := drainPriceUpdates(t, c); len(updates) != 0 {
		t.Fatalf("non-subscriber received %d updates, want 0", len(updates))
	}
}

func TestPublishConvertsToDisplayCurrency(t *testing.T) {
	hub := NewHub()
	rates := store.NewRates("USD")
	rates.Replace(map[string]float64{"EUR": 0.9})
	fan := NewFanout(hub, rates)

	c := newClient(nil)
	id := hub.Register(c)
	hub.SubscribePrices(id, []string{"BTC-USD"}, "EUR")

	fan.Publish("BTC-USD", 50000, time.Now())

	updates := drainPriceUpdates(t, c)
	if len(updates) != 1 {
		t.Fatalf("received %d updates, want 1", len(updates))
	}
	if got := updates[0].Price; got != 45000 {
		t.Fatalf("converted price = %v, want 45000", got)
	}
}

func TestPublishPassesThroughUnknownCurrency(t *testing.T) {
	hub := NewHub()
	rates := store.NewRates("USD")
	rates.Replace(map[string]float64{"EUR": 0.9})
	fan := NewFanout(hub, rates)

	c := newClient(nil)
	id := hub.Register(c)
	hub.SubscribePrices(id, []string{"BTC-USD"}, "XYZ")

	fan.Publish("BTC-USD", 50000, time.Now())

	updates := drainPriceUpdates(t, c)
	if len(updates) != 1 {
		t.Fatalf("received %d updates, want 1", len(updates))
	}
	if got := updates[0].Price; got != 50000 {
		t.Fatalf("price = %v, want unconverted 50000", got)
	}
}

func TestPublishContinuesPastClosedConnection(t *testing.T) {
	hub := NewHub()
	fan := NewFanout(hub, store.NewRates("USD"))

	dead := newClient(nil)
	live := newClient(nil)
	deadID := hub.Register(dead)
	liveID := hub.Register(live)
	hub.SubscribePrices(deadID, []string{"BTC-USD"}, "")
	hub.SubscribePrices(liveID, []string{"BTC-USD"}, "")

	hub.Unregister(deadID)

	fan.Publish("BTC-USD", 50000, time.Now())

	if updates := drainPriceUpdates(t, live); len(updates) != 1 {
		t.Fatalf("surviving connection received %d updates, want 1", len(updates))
	}
}

func TestPublishDoesNotBlockOnSlowClient(t *testing.T) {
	hub := NewHub()
	fan := NewFanout(hub, store.NewRates("USD"))

	slow := newClient(nil)
	fast := newClient(nil)
	slowID := hub.Register(slow)
	fastID := hub.Register(fast)
	hub.SubscribePrices(slowID, []string{"BTC-USD"}, "")
	hub.SubscribePrices(fastID, []string{"BTC-USD"}, "")

	// Fill the slow client's buffer; nobody is draining it.
	for i := 0; i < sendBufferSize; i++ {
		if !slow.trySend(Message{Type: TypePing}) {
			t.Fatalf("buffer filled early at %d", i)
		}
	}

	done := make(chan struct{})
	go func() {
		fan.Publish("BTC-USD", 50000, time.Now())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow client")
	}

	if updates := drainPriceUpdates(t, fast); len(updates) != 1 {
		t.Fatalf("fast connection received %d updates, want 1", len(updates))
	}
}
