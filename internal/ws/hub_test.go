package ws

import (
	"testing"
)

func TestRegisterOpensConnection(t *testing.T) {
	hub := NewHub()
	c := newClient(nil)

	id := hub.Register(c)
	if id == "" {
		t.Fatal("expected a connection id")
	}
	if c.ID() != id {
		t.Fatalf("client id = %q, want %q", c.ID(), id)
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if hub.Len() != 1 {
		t.Fatalf("hub size = %d, want 1", hub.Len())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := newClient(nil)
	id := hub.Register(c)

	hub.Unregister(id)
	if hub.Len() != 0 {
		t.Fatalf("hub size = %d, want 0", hub.Len())
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	// Second removal and an unknown id must both be no-ops.
	hub.Unregister(id)
	hub.Unregister("no-such-connection")
	if hub.Len() != 0 {
		t.Fatalf("hub size = %d after repeat unregister, want 0", hub.Len())
	}
}

func TestSubscribeUnknownConnectionIsNoOp(t *testing.T) {
	hub := NewHub()

	// The client may have disconnected just before the request landed;
	// neither call may panic or register anything.
	hub.SubscribePrices("gone", []string{"BTC-USD"}, "EUR")
	hub.SubscribeAlerts("gone")

	if subs := hub.ConnectionsForSymbol("BTC-USD"); len(subs) != 0 {
		t.Fatalf("subscribers = %d, want 0", len(subs))
	}
}

func TestConnectionsForSymbol(t *testing.T) {
	hub := NewHub()
	a := newClient(nil)
	b := newClient(nil)
	idA := hub.Register(a)
	idB := hub.Register(b)

	hub.SubscribePrices(idA, []string{"BTC-USD", "ETH-USD"}, "")
	hub.SubscribePrices(idB, []string{"btc-usd"}, "")

	if subs := hub.ConnectionsForSymbol("BTC-USD"); len(subs) != 2 {
		t.Fatalf("BTC-USD subscribers = %d, want 2", len(subs))
	}
	if subs := hub.ConnectionsForSymbol("ETH-USD"); len(subs) != 1 {
		t.Fatalf("ETH-USD subscribers = %d, want 1", len(subs))
	}
	if subs := hub.ConnectionsForSymbol("SOL-USD"); len(subs) != 0 {
		t.Fatalf("SOL-USD subscribers = %d, want 0", len(subs))
	}
}

func TestSubscribeUnionsSymbols(t *testing.T) {
	hub := NewHub()
	c := newClient(nil)
	id := hub.Register(c)

	hub.SubscribePrices(id, []string{"BTC-USD"}, "")
	hub.SubscribePrices(id, []string{"BTC-USD", "ETH-USD"}, "")

	if subs := hub.ConnectionsForSymbol("BTC-USD"); len(subs) != 1 {
		t.Fatalf("BTC-USD subscribers = %d, want 1", len(subs))
	}
	if subs := hub.ConnectionsForSymbol("ETH-USD"); len(subs) != 1 {
		t.Fatalf("ETH-USD subscribers = %d, want 1", len(subs))
	}
}

func TestUnregisterRemovesSubscriptions(t *testing.T) {
	hub := NewHub()
	c := newClient(nil)
	id := hub.Register(c)
	hub.SubscribePrices(id, []string{"BTC-USD"}, "")

	hub.Unregister(id)

	if subs := hub.ConnectionsForSymbol("BTC-USD"); len(subs) != 0 {
		t.Fatalf("subscribers after unregister = %d, want 0", len(subs))
	}
}

func TestAlertSubscribers(t *testing.T) {
	hub := NewHub()
	a := newClient(nil)
	b := newClient(nil)
	idA := hub.Register(a)
	hub.Register(b)

	hub.SubscribeAlerts(idA)

	subs := hub.AlertSubscribers()
	if len(subs) != 1 {
		t.Fatalf("alert subscribers = %d, want 1", len(subs))
	}
	if subs[0].ID() != idA {
		t.Fatalf("alert subscriber = %q, want %q", subs[0].ID(), idA)
	}
}

func TestBroadcastAlertReachesOnlySubscribers(t *testing.T) {
	hub := NewHub()
	sub := newClient(nil)
	other := newClient(nil)
	subID := hub.Register(sub)
	hub.Register(other)
	hub.SubscribeAlerts(subID)

	hub.BroadcastAlert(TriggeredAlert{ID: "a1", Symbol: "BTC-USD", AlertType: "ABOVE", ThresholdPrice: 60000})

	select {
	case msg := <-sub.send:
		if msg.Type != TypeAlertTriggered {
			t.Fatalf("message type = %q, want %q", msg.Type, TypeAlertTriggered)
		}
		data, ok := msg.Data.(AlertTriggeredData)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg.Data)
		}
		if data.Alert.ID != "a1" {
			t.Fatalf("alert id = %q, want a1", data.Alert.ID)
		}
	default:
		t.Fatal("subscriber received no alert message")
	}

	select {
	case msg := <-other.send:
		t.Fatalf("non-subscriber received %v", msg)
	default:
	}
}

func TestTrySendAfterCloseFails(t *testing.T) {
	hub := NewHub()
	c := newClient(nil)
	id := hub.Register(c)
	hub.Unregister(id)

	if c.trySend(Message{Type: TypePing}) {
		t.Fatal("trySend succeeded on a closed connection")
	}
}
