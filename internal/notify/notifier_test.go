package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/intent"
	"tradehook/pkg/db"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Send(accountID, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, accountID+": "+subject)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestNotifier(t *testing.T, prefs string) (*Notifier, *events.Bus, *captureSender) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := database.CreateAccount(context.Background(), db.Account{
		ID: "a1", Name: "Test", WebhookSecret: "s", NotifyPrefs: prefs,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	bus := events.NewBus()
	sender := &captureSender{}
	n := New(database, bus, sender)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	n.Start(ctx)
	t.Cleanup(n.Stop)
	return n, bus, sender
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNotifierSendsWhenPreferenceEnabled(t *testing.T) {
	_, bus, sender := newTestNotifier(t, PrefTradeOpened)

	bus.Publish(events.EventTradeOpened, db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT", Side: "BUY", Qty: 0.01, EntryPrice: 50000,
	})

	if !waitFor(t, func() bool { return sender.count() == 1 }) {
		t.Fatal("expected one notification")
	}
}

func TestNotifierReportsFailedTrades(t *testing.T) {
	_, bus, sender := newTestNotifier(t, PrefTradeFailed)

	bus.Publish(events.EventTradeFailed, &intent.TradeIntent{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT", Action: intent.ActionOpenLong,
	})

	if !waitFor(t, func() bool { return sender.count() == 1 }) {
		t.Fatal("expected a trade failure notification")
	}
}

func TestNotifierGatesDisabledPreference(t *testing.T) {
	_, bus, sender := newTestNotifier(t, PrefLimitReached)

	bus.Publish(events.EventTradeOpened, db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
	})

	// Give the consumer a moment; nothing should arrive.
	time.Sleep(100 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatalf("notification sent despite disabled preference: %v", sender.sent)
	}
}

func TestNotifierEmptyPrefsMeansEverything(t *testing.T) {
	_, bus, sender := newTestNotifier(t, "")

	bus.Publish(events.EventPositionClosed, db.Trade{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT", PnL: -12.5, CloseReason: "signal",
	})

	if !waitFor(t, func() bool { return sender.count() == 1 }) {
		t.Fatal("expected one notification with empty prefs")
	}
}

func TestNotifierUnknownAccountDropped(t *testing.T) {
	_, bus, sender := newTestNotifier(t, "")

	bus.Publish(events.EventTradeOpened, db.Position{
		AccountID: "ghost", Venue: "bitflex", Symbol: "BTC/USDT",
	})

	time.Sleep(100 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatalf("notification sent for unknown account: %v", sender.sent)
	}
}
