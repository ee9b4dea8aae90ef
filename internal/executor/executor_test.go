package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/intent"
	"tradehook/internal/position"
	"tradehook/internal/risk"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// mockVenue scripts venue behavior and records the orders it receives.
type mockVenue struct {
	common.Venue

	lastPrice float64
	precision int
	position  *common.PositionInfo

	placed    []placedOrder
	cancelled []string
	closed    bool

	entryErr error
	slErr    error
	tpErr    error
}

type placedOrder struct {
	kind  string
	side  common.Side
	qty   float64
	price float64
}

func (m *mockVenue) Name() string { return "mock" }

func (m *mockVenue) Ticker(ctx context.Context, symbol string) (common.Ticker, error) {
	return common.Ticker{Symbol: symbol, Last: m.lastPrice, Time: time.Now()}, nil
}

func (m *mockVenue) QtyPrecision(symbol string) int { return m.precision }

func (m *mockVenue) Position(ctx context.Context, symbol string) (*common.PositionInfo, error) {
	return m.position, nil
}

func (m *mockVenue) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	if m.entryErr != nil {
		return common.OrderRef{}, m.entryErr
	}
	m.placed = append(m.placed, placedOrder{"market", side, qty, 0})
	return common.OrderRef{ID: "ord-entry", Status: common.StatusFilled}, nil
}

func (m *mockVenue) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderRef, error) {
	if m.entryErr != nil {
		return common.OrderRef{}, m.entryErr
	}
	m.placed = append(m.placed, placedOrder{"limit", side, qty, price})
	return common.OrderRef{ID: "ord-entry", Status: common.StatusNew}, nil
}

func (m *mockVenue) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderRef, error) {
	if m.slErr != nil {
		return common.OrderRef{}, m.slErr
	}
	m.placed = append(m.placed, placedOrder{"stop", side, qty, stopPrice})
	return common.OrderRef{ID: "ord-sl", Status: common.StatusNew}, nil
}

func (m *mockVenue) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, targetPrice float64) (common.OrderRef, error) {
	if m.tpErr != nil {
		return common.OrderRef{}, m.tpErr
	}
	m.placed = append(m.placed, placedOrder{"tp", side, qty, targetPrice})
	return common.OrderRef{ID: "ord-tp", Status: common.StatusNew}, nil
}

func (m *mockVenue) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	m.closed = true
	m.position = nil
	return common.OrderRef{ID: "ord-close", Status: common.StatusFilled}, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockVenue) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	return common.OrderDetail{ID: orderID, AvgPrice: m.lastPrice, Status: common.StatusFilled}, nil
}

type mockSource struct {
	venue     *mockVenue
	failures  int
	successes int
}

func (s *mockSource) Resolve(ctx context.Context, accountID, venueType string) (common.Venue, error) {
	return s.venue, nil
}
func (s *mockSource) RecordFailure(accountID, venueType string) { s.failures++ }
func (s *mockSource) RecordSuccess(accountID, venueType string) { s.successes++ }

func newTestExecutor(t *testing.T, venue *mockVenue) (*Executor, *position.Store, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	// Permissive settings so date-of-run never trips the weekend check.
	path := filepath.Join(t.TempDir(), "risk.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  allow_weekend: true\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	settings := risk.NewSettingsStore(path)

	store := position.NewStore(database)
	counters := risk.NewCounters(database)
	engine := risk.NewEngine(settings, counters, store)
	bus := events.NewBus()
	sizing := SizingConfig{BaseUSD: 750}

	ex := New(engine, &mockSource{venue: venue}, store, counters, database, bus, sizing)
	return ex, store, database
}

func openLong(sizeUSD float64) *intent.TradeIntent {
	return &intent.TradeIntent{
		ID:            "it-1",
		AccountID:     "a1",
		Venue:         "bitflex",
		Symbol:        "BTC/USDT",
		Action:        intent.ActionOpenLong,
		OrderType:     common.OrderTypeMarket,
		SizeUSD:       sizeUSD,
		Leverage:      5,
		StopLossPct:   20,
		TakeProfitPct: 50,
		SignalTime:    time.Now().UTC(),
	}
}

func TestExecuteOpensLongWithProtectives(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, store, _ := newTestExecutor(t, venue)

	res, err := ex.Execute(context.Background(), openLong(100))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionOpened {
		t.Fatalf("action = %q, want opened", res.Action)
	}
	if res.Qty != 0.01 {
		t.Fatalf("qty = %v, want 0.01", res.Qty)
	}

	if len(venue.placed) != 3 {
		t.Fatalf("placed %d orders, want entry+stop+tp", len(venue.placed))
	}
	entry, stop, tp := venue.placed[0], venue.placed[1], venue.placed[2]
	if entry.side != common.SideBuy || entry.qty != 0.01 {
		t.Fatalf("entry order wrong: %+v", entry)
	}
	if stop.side != common.SideSell || stop.price != 48000 {
		t.Fatalf("stop order wrong: %+v", stop)
	}
	if tp.side != common.SideSell || tp.price != 55000 {
		t.Fatalf("take-profit order wrong: %+v", tp)
	}

	pos, ok := store.Get("a1", "bitflex", "BTC/USDT")
	if !ok {
		t.Fatal("position not tracked")
	}
	if pos.StopOrderID != "ord-sl" || pos.TPOrderID != "ord-tp" {
		t.Fatalf("protective order ids not recorded: %+v", pos)
	}
}

func TestExecuteProtectiveFailureIsWarningNotRollback(t *testing.T) {
	venue := &mockVenue{
		lastPrice: 50000,
		precision: 4,
		slErr:     common.NewError("bitflex", common.KindVenueRejected, "stop rejected"),
	}
	ex, store, _ := newTestExecutor(t, venue)

	res, err := ex.Execute(context.Background(), openLong(100))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionOpened {
		t.Fatalf("action = %q, want opened despite protection failure", res.Action)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning about the failed stop-loss")
	}
	if _, ok := store.Get("a1", "bitflex", "BTC/USDT"); !ok {
		t.Fatal("position must be kept when only protection fails")
	}
}

func TestExecuteRiskDenialSkipsVenue(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, _, _ := newTestExecutor(t, venue)
	ctx := context.Background()

	it := openLong(100)
	it.SignalTime = time.Now().UTC().Add(-time.Hour) // stale beyond the default limit

	res, err := ex.Execute(ctx, it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Rejected == nil {
		t.Fatal("expected risk rejection")
	}
	if res.Rejected.Limit != risk.LimitSignalAge {
		t.Fatalf("limit = %q, want signal_age", res.Rejected.Limit)
	}
	if len(venue.placed) != 0 {
		t.Fatal("denied intent must not reach the venue")
	}
}

func TestExecuteReversalClosesThenOpens(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, store, _ := newTestExecutor(t, venue)
	ctx := context.Background()

	short := db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
		Side: "SELL", Qty: 0.02, EntryPrice: 51000, MarkPrice: 50000,
		StopOrderID: "old-sl", SyncedAt: time.Now().UTC(),
	}
	if err := store.Set(ctx, short); err != nil {
		t.Fatalf("seed short: %v", err)
	}

	res, err := ex.Execute(ctx, openLong(100))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionReversed {
		t.Fatalf("action = %q, want reversed", res.Action)
	}
	if !venue.closed {
		t.Fatal("existing short was not closed first")
	}
	if len(venue.cancelled) != 1 || venue.cancelled[0] != "old-sl" {
		t.Fatalf("old protective not cancelled: %v", venue.cancelled)
	}

	pos, ok := store.Get("a1", "bitflex", "BTC/USDT")
	if !ok {
		t.Fatal("new long not tracked")
	}
	if pos.Side != "BUY" {
		t.Fatalf("tracked side = %q, want BUY", pos.Side)
	}
}

func TestExecuteSameSideIsSkipped(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, store, _ := newTestExecutor(t, venue)
	ctx := context.Background()

	long := db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
		Side: "BUY", Qty: 0.01, EntryPrice: 49000, SyncedAt: time.Now().UTC(),
	}
	if err := store.Set(ctx, long); err != nil {
		t.Fatalf("seed long: %v", err)
	}

	res, err := ex.Execute(ctx, openLong(100))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionSkipped {
		t.Fatalf("action = %q, want skipped", res.Action)
	}
	if len(venue.placed) != 0 {
		t.Fatal("duplicate entry must not place orders")
	}
}

func TestExecuteRestingLimitEntryIsNotAPosition(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, store, _ := newTestExecutor(t, venue)

	it := openLong(100)
	it.OrderType = common.OrderTypeLimit
	it.LimitPrice = 40000 // below market, will rest unfilled

	res, err := ex.Execute(context.Background(), it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionPending {
		t.Fatalf("action = %q, want pending", res.Action)
	}
	if res.OrderID != "ord-entry" {
		t.Fatalf("order id = %q", res.OrderID)
	}

	// No position and no reduce-only protectives until the entry fills.
	if _, ok := store.Get("a1", "bitflex", "BTC/USDT"); ok {
		t.Fatal("unfilled limit entry must not be tracked as open")
	}
	if store.CountOpen("a1", "bitflex") != 0 {
		t.Fatal("resting order must not count against the position cap")
	}
	if len(venue.placed) != 1 {
		t.Fatalf("placed %d orders, want only the entry: %+v", len(venue.placed), venue.placed)
	}
	if venue.placed[0].kind != "limit" || venue.placed[0].price != 40000 {
		t.Fatalf("entry order wrong: %+v", venue.placed[0])
	}
}

func TestExecuteCloseWhenFlatIsNoop(t *testing.T) {
	venue := &mockVenue{lastPrice: 50000, precision: 4}
	ex, _, _ := newTestExecutor(t, venue)

	it := &intent.TradeIntent{
		ID: "it-2", AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
		Action: intent.ActionClose, OrderType: common.OrderTypeMarket,
		SignalTime: time.Now().UTC(),
	}
	res, err := ex.Execute(context.Background(), it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionSkipped {
		t.Fatalf("action = %q, want skipped", res.Action)
	}
	if venue.closed {
		t.Fatal("nothing to close, ClosePosition must not be called")
	}
}

func TestExecuteCloseWritesLedger(t *testing.T) {
	venue := &mockVenue{lastPrice: 52000, precision: 4}
	ex, store, database := newTestExecutor(t, venue)
	ctx := context.Background()

	long := db.Position{
		AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
		Side: "BUY", Qty: 0.01, EntryPrice: 50000, MarkPrice: 52000,
		SyncedAt: time.Now().UTC(),
	}
	if err := store.Set(ctx, long); err != nil {
		t.Fatalf("seed long: %v", err)
	}

	it := &intent.TradeIntent{
		ID: "it-3", AccountID: "a1", Venue: "bitflex", Symbol: "BTC/USDT",
		Action: intent.ActionClose, OrderType: common.OrderTypeMarket,
		SignalTime: time.Now().UTC(),
	}
	res, err := ex.Execute(ctx, it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != ActionClosed {
		t.Fatalf("action = %q, want closed", res.Action)
	}
	if _, ok := store.Get("a1", "bitflex", "BTC/USDT"); ok {
		t.Fatal("position still tracked after close")
	}

	n, err := database.TradeCountSince(ctx, "a1", "bitflex", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count trades: %v", err)
	}
	if n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
}
