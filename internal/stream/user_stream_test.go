package stream

import (
	"context"
	"testing"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/position"
	"tradehook/pkg/db"
)

func newTestStream(t *testing.T) (*UserStream, *position.Store, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	store := position.NewStore(database)
	s := NewUserStream(nil, store, database, events.NewBus(), "a1")
	return s, store, database
}

func TestHandleMessageAppliesPositionUpdate(t *testing.T) {
	s, store, _ := newTestStream(t)

	msg := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"BTCUSDT","pa":"0.02","ep":"50000","up":"12.5"}]}}`)
	s.handleMessage(context.Background(), msg)

	pos, ok := store.Get("a1", "bitflex", "BTCUSDT")
	if !ok {
		t.Fatal("pushed position not stored")
	}
	if pos.Side != "BUY" || pos.Qty != 0.02 || pos.EntryPrice != 50000 {
		t.Fatalf("stored position wrong: %+v", pos)
	}
	if pos.UnrealizedPnL != 12.5 {
		t.Fatalf("upnl = %v, want 12.5", pos.UnrealizedPnL)
	}
}

func TestHandleMessageNegativeQtyIsShort(t *testing.T) {
	s, store, _ := newTestStream(t)

	msg := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"ETHUSDT","pa":"-1.5","ep":"4000","up":"0"}]}}`)
	s.handleMessage(context.Background(), msg)

	pos, ok := store.Get("a1", "bitflex", "ETHUSDT")
	if !ok {
		t.Fatal("pushed short not stored")
	}
	if pos.Side != "SELL" || pos.Qty != 1.5 {
		t.Fatalf("stored short wrong: %+v", pos)
	}
}

func TestHandleMessageZeroQtySettlesToLedger(t *testing.T) {
	s, store, database := newTestStream(t)
	ctx := context.Background()
	seed := db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 0.01, EntryPrice: 50000, MarkPrice: 45000,
		SyncedAt: time.Now().UTC(),
	}
	if err := store.Set(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msg := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"BTCUSDT","pa":"0","ep":"0","up":"0"}]}}`)
	s.handleMessage(ctx, msg)

	if _, ok := store.Get("a1", "bitflex", "BTCUSDT"); ok {
		t.Fatal("flat position not removed")
	}
	// A venue-side close must realize to the ledger so loss caps see it.
	since := time.Now().UTC().Add(-time.Hour)
	n, err := database.TradeCountSince(ctx, "a1", "bitflex", since)
	if err != nil {
		t.Fatalf("count trades: %v", err)
	}
	if n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
	loss, err := database.RealizedLossSince(ctx, "a1", "bitflex", since)
	if err != nil {
		t.Fatalf("realized loss: %v", err)
	}
	if loss != 50 {
		t.Fatalf("realized loss = %v, want 50", loss)
	}
}

func TestHandleMessageZeroQtyUntrackedIsIgnored(t *testing.T) {
	s, store, database := newTestStream(t)
	ctx := context.Background()

	msg := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"BTCUSDT","pa":"0","ep":"0","up":"0"}]}}`)
	s.handleMessage(ctx, msg)

	if got := len(store.List()); got != 0 {
		t.Fatalf("unexpected positions stored: %d", got)
	}
	n, err := database.TradeCountSince(ctx, "a1", "bitflex", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count trades: %v", err)
	}
	if n != 0 {
		t.Fatalf("ledger rows = %d, want 0 for an untracked symbol", n)
	}
}

func TestHandleMessagePreservesProtectiveIDs(t *testing.T) {
	s, store, _ := newTestStream(t)
	ctx := context.Background()
	seed := db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 0.01, EntryPrice: 50000, Leverage: 5,
		StopOrderID: "sl-1", TPOrderID: "tp-1", SyncedAt: time.Now().UTC(),
	}
	if err := store.Set(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msg := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"BTCUSDT","pa":"0.02","ep":"50500","up":"3"}]}}`)
	s.handleMessage(ctx, msg)

	pos, _ := store.Get("a1", "bitflex", "BTCUSDT")
	if pos.StopOrderID != "sl-1" || pos.TPOrderID != "tp-1" || pos.Leverage != 5 {
		t.Fatalf("protective ids lost on push update: %+v", pos)
	}
	if pos.Qty != 0.02 || pos.EntryPrice != 50500 {
		t.Fatalf("update not applied: %+v", pos)
	}
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	s, store, _ := newTestStream(t)

	s.handleMessage(context.Background(), []byte(`{"e":"ORDER_TRADE_UPDATE","o":{}}`))
	s.handleMessage(context.Background(), []byte(`not json`))
	s.handleMessage(context.Background(), []byte(`{"result":null,"id":1}`))

	if got := len(store.List()); got != 0 {
		t.Fatalf("unexpected positions stored: %d", got)
	}
}
