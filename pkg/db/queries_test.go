package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return database
}

func TestRiskCountersFromLedger(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	trades := []Trade{
		{ID: "t1", AccountID: "a1", Venue: "bitflex", Symbol: "BTCUSDT", Side: "BUY", Qty: 0.01, EntryPrice: 50000, ExitPrice: 49000, PnL: -10, OpenedAt: now.Add(-2 * time.Hour), ClosedAt: now.Add(-time.Hour)},
		{ID: "t2", AccountID: "a1", Venue: "bitflex", Symbol: "ETHUSDT", Side: "SELL", Qty: 0.1, EntryPrice: 4000, ExitPrice: 3900, PnL: 10, OpenedAt: now.Add(-2 * time.Hour), ClosedAt: now.Add(-time.Hour)},
		{ID: "t3", AccountID: "a1", Venue: "bitflex", Symbol: "BTCUSDT", Side: "BUY", Qty: 0.01, EntryPrice: 50000, ExitPrice: 48000, PnL: -20, OpenedAt: now.Add(-50 * time.Hour), ClosedAt: now.Add(-49 * time.Hour)},
		// Different venue must not count.
		{ID: "t4", AccountID: "a1", Venue: "deriva", Symbol: "ETH", Side: "BUY", Qty: 1, EntryPrice: 4000, ExitPrice: 3000, PnL: -1000, OpenedAt: now.Add(-time.Hour), ClosedAt: now},
	}
	for _, tr := range trades {
		if err := database.AppendTrade(ctx, tr); err != nil {
			t.Fatalf("append trade %s: %v", tr.ID, err)
		}
	}

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	loss, err := database.RealizedLossSince(ctx, "a1", "bitflex", dayAgo)
	if err != nil {
		t.Fatalf("daily loss: %v", err)
	}
	if loss != 10 {
		t.Fatalf("daily loss = %v, expected 10", loss)
	}

	loss, err = database.RealizedLossSince(ctx, "a1", "bitflex", weekAgo)
	if err != nil {
		t.Fatalf("weekly loss: %v", err)
	}
	if loss != 30 {
		t.Fatalf("weekly loss = %v, expected 30", loss)
	}

	n, err := database.TradeCountSince(ctx, "a1", "bitflex", weekAgo)
	if err != nil {
		t.Fatalf("trade count: %v", err)
	}
	if n != 3 {
		t.Fatalf("weekly trade count = %d, expected 3", n)
	}
}

func TestPositionUpsertKeepsOneRowPerKey(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := Position{AccountID: "a1", Venue: "bitflex", Symbol: "BTCUSDT", Side: "BUY", Qty: 0.01, EntryPrice: 50000, Leverage: 5}
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p.Qty = 0.02
	p.MarkPrice = 51000
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, expected 1", len(rows))
	}
	if rows[0].Qty != 0.02 || rows[0].MarkPrice != 51000 {
		t.Fatalf("row not updated: %+v", rows[0])
	}

	if err := database.DeletePosition(ctx, "a1", "bitflex", "BTCUSDT"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err = database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows after delete, expected 0", len(rows))
	}
}

func TestOptionTradeTransitionsAreSingleShot(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	tr := OptionTrade{
		ID: "o1", AccountID: "a1", Venue: "fxbroker",
		Underlying: "SPX", OptionSymbol: "SPX240920C5600", Side: "BUY",
		Qty: 2, Multiplier: 100, EntryOrderID: "e1", TPOrderID: "tp1", SLOrderID: "sl1",
	}
	if err := database.CreateOptionTrade(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := database.MarkOptionTradeOpen(ctx, "o1", 12.5); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.CloseOptionTrade(ctx, "o1", OptionStatusClosedTP, 15.0, 500); err != nil {
		t.Fatalf("close tp: %v", err)
	}

	// A second closing transition must fail: the trade is terminal.
	if err := database.CloseOptionTrade(ctx, "o1", OptionStatusClosedSL, 10.0, -500); err == nil {
		t.Fatal("expected error on second close, got nil")
	}

	got, err := database.ListOptionTradesByStatus(ctx, OptionStatusClosedTP)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].PnL != 500 || got[0].ExitPrice != 15.0 {
		t.Fatalf("unexpected terminal row: %+v", got)
	}
}
