// Package executor orchestrates the order lifecycle for one trade intent:
// risk gate, close-before-open, entry, protective orders, bookkeeping.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/events"
	"tradehook/internal/intent"
	"tradehook/internal/position"
	"tradehook/internal/risk"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// Result actions.
const (
	ActionOpened   = "opened"
	ActionClosed   = "closed"
	ActionReversed = "reversed"
	ActionSkipped  = "skipped"
	ActionPending  = "pending"
)

// Result describes what an intent actually did. Risk denials come back as a
// Result with Rejected set rather than an error; errors are reserved for
// venue and infrastructure failures.
type Result struct {
	IntentID   string         `json:"intent_id"`
	Action     string         `json:"action"`
	Venue      string         `json:"venue"`
	Symbol     string         `json:"symbol"`
	Qty        float64        `json:"qty,omitempty"`
	EntryPrice float64        `json:"entry_price,omitempty"`
	OrderID    string         `json:"order_id,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Rejected   *risk.Decision `json:"rejected,omitempty"`
}

// LimitEvent is published on limit.reached so listeners know whose intent
// was denied.
type LimitEvent struct {
	AccountID string
	Venue     string
	Decision  risk.Decision
}

// VenueSource resolves adapters and records their health. Implemented by the
// venue manager.
type VenueSource interface {
	Resolve(ctx context.Context, accountID, venueType string) (common.Venue, error)
	RecordFailure(accountID, venueType string)
	RecordSuccess(accountID, venueType string)
}

const (
	settleTimeout = 10 * time.Second
	settlePoll    = 500 * time.Millisecond
)

// Executor runs intents to completion. One instance serves all accounts;
// each Execute call is independent.
type Executor struct {
	engine   *risk.Engine
	venues   VenueSource
	store    *position.Store
	counters *risk.Counters
	database *db.Database
	bus      *events.Bus
	sizing   SizingConfig
}

func New(engine *risk.Engine, venues VenueSource, store *position.Store, counters *risk.Counters, database *db.Database, bus *events.Bus, sizing SizingConfig) *Executor {
	return &Executor{
		engine:   engine,
		venues:   venues,
		store:    store,
		counters: counters,
		database: database,
		bus:      bus,
		sizing:   sizing,
	}
}

// Execute runs one intent. Entry intents pass the risk gate first; close
// intents go straight to the venue so an account can always flatten.
func (e *Executor) Execute(ctx context.Context, it *intent.TradeIntent) (Result, error) {
	res := Result{IntentID: it.ID, Venue: it.Venue, Symbol: it.Symbol}

	decision, err := e.engine.Check(ctx, it)
	if err != nil {
		return res, fmt.Errorf("risk check: %w", err)
	}
	if !decision.Allowed {
		res.Rejected = &decision
		log.Printf("[executor] intent %s denied: %s (%s)", it.ID, decision.Reason, decision.Limit)
		e.bus.Publish(events.EventLimitReached, LimitEvent{
			AccountID: it.AccountID,
			Venue:     it.Venue,
			Decision:  decision,
		})
		return res, nil
	}

	venue, err := e.venues.Resolve(ctx, it.AccountID, it.Venue)
	if err != nil {
		return res, fmt.Errorf("resolve venue: %w", err)
	}

	if !it.IsEntry() {
		return e.executeClose(ctx, it, venue, res)
	}
	return e.executeEntry(ctx, it, venue, decision, res)
}

func (e *Executor) executeClose(ctx context.Context, it *intent.TradeIntent, venue common.Venue, res Result) (Result, error) {
	tracked, ok := e.store.Get(it.AccountID, it.Venue, it.Symbol)
	if !ok {
		remote, err := venue.Position(ctx, it.Symbol)
		if err != nil {
			e.recordVenueFailure(it)
			return res, err
		}
		if remote == nil || remote.Qty == 0 {
			res.Action = ActionSkipped
			return res, nil
		}
		tracked = db.Position{
			AccountID:  it.AccountID,
			Venue:      it.Venue,
			Symbol:     it.Symbol,
			Side:       string(remote.Side),
			Qty:        remote.Qty,
			EntryPrice: remote.EntryPrice,
		}
	}

	exitPrice, err := e.closePosition(ctx, it, venue, tracked, "signal")
	if err != nil {
		e.recordVenueFailure(it)
		return res, err
	}
	e.venues.RecordSuccess(it.AccountID, it.Venue)

	res.Action = ActionClosed
	res.Qty = tracked.Qty
	res.EntryPrice = exitPrice
	return res, nil
}

func (e *Executor) executeEntry(ctx context.Context, it *intent.TradeIntent, venue common.Venue, decision risk.Decision, res Result) (Result, error) {
	side := it.Action.Side()
	reversed := false

	if tracked, ok := e.store.Get(it.AccountID, it.Venue, it.Symbol); ok {
		if tracked.Side == string(side) {
			log.Printf("[executor] intent %s: already %s on %s, skipping", it.ID, tracked.Side, it.Symbol)
			res.Action = ActionSkipped
			return res, nil
		}
		if _, err := e.closePosition(ctx, it, venue, tracked, "reversal"); err != nil {
			e.recordVenueFailure(it)
			return res, fmt.Errorf("close before reverse: %w", err)
		}
		if err := e.waitFlat(ctx, venue, it.Symbol); err != nil {
			e.recordVenueFailure(it)
			return res, fmt.Errorf("settle before reverse: %w", err)
		}
		reversed = true
	}

	sizeUSD := resolveSizeUSD(e.sizing, it.Venue, it.SizeUSD)
	if decision.MaxPositionUSD > 0 && sizeUSD > decision.MaxPositionUSD {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("size clamped from %.2f to %.2f USD", sizeUSD, decision.MaxPositionUSD))
		sizeUSD = decision.MaxPositionUSD
	}

	price := it.LimitPrice
	if it.OrderType == common.OrderTypeMarket {
		tick, err := venue.Ticker(ctx, it.Symbol)
		if err != nil {
			e.recordVenueFailure(it)
			return res, fmt.Errorf("ticker: %w", err)
		}
		price = tick.Last
	}

	qty, err := computeQty(sizeUSD, it.Leverage, price, venue.QtyPrecision(it.Symbol))
	if err != nil {
		return res, common.NewError(it.Venue, common.KindValidation, err.Error())
	}

	var ref common.OrderRef
	if it.OrderType == common.OrderTypeLimit {
		ref, err = venue.PlaceLimitOrder(ctx, it.Symbol, side, qty, price)
	} else {
		ref, err = venue.PlaceMarketOrder(ctx, it.Symbol, side, qty)
	}
	if err != nil {
		e.recordVenueFailure(it)
		e.bus.Publish(events.EventTradeFailed, it)
		return res, fmt.Errorf("entry order: %w", err)
	}
	e.audit(ctx, it, string(it.OrderType), side, qty, price, ref)

	// A resting limit entry is not a position yet. The audit row tracks the
	// order; tracking and protective legs wait for the fill, which the
	// reconciler adopts. Until then the expiry sweeper can still cancel it.
	if it.OrderType == common.OrderTypeLimit && ref.Status != common.StatusFilled {
		e.venues.RecordSuccess(it.AccountID, it.Venue)
		res.Action = ActionPending
		res.Qty = qty
		res.EntryPrice = price
		res.OrderID = ref.ID
		log.Printf("[executor] intent %s: limit entry %s resting at %v on %s", it.ID, ref.ID, price, it.Symbol)
		return res, nil
	}

	entryPrice := price
	if detail, err := venue.GetOrder(ctx, it.Symbol, ref.ID); err == nil && detail.AvgPrice > 0 {
		entryPrice = detail.AvgPrice
	}

	pos := db.Position{
		AccountID:  it.AccountID,
		Venue:      it.Venue,
		Symbol:     it.Symbol,
		Side:       string(side),
		Qty:        qty,
		EntryPrice: entryPrice,
		Leverage:   it.Leverage,
		MarkPrice:  entryPrice,
	}

	// Protective orders. A failure here is a warning, not a rollback: the
	// position stays open and the caller is told protection is missing.
	stop, target := protectivePrices(entryPrice, it.Leverage, side == common.SideBuy,
		it.StopLossPct, it.TakeProfitPct, it.StopLossAbs, it.TakeProfitAbs)
	if stop > 0 {
		slRef, err := venue.PlaceStopLoss(ctx, it.Symbol, side.Opposite(), qty, stop)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("stop-loss placement failed: %v", err))
			e.bus.Publish(events.EventProtectionFailed, it)
		} else {
			pos.StopOrderID = slRef.ID
			e.audit(ctx, it, string(common.OrderTypeStopLoss), side.Opposite(), qty, stop, slRef)
		}
	}
	if target > 0 {
		tpRef, err := venue.PlaceTakeProfit(ctx, it.Symbol, side.Opposite(), qty, target)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("take-profit placement failed: %v", err))
			e.bus.Publish(events.EventProtectionFailed, it)
		} else {
			pos.TPOrderID = tpRef.ID
			e.audit(ctx, it, string(common.OrderTypeTakeProfit), side.Opposite(), qty, target, tpRef)
		}
	}

	if err := e.store.Set(ctx, pos); err != nil {
		log.Printf("[executor] intent %s: position not persisted: %v", it.ID, err)
		res.Warnings = append(res.Warnings, "position tracking write failed")
	}

	e.counters.RecordSuccess(it.AccountID, it.Venue)
	e.venues.RecordSuccess(it.AccountID, it.Venue)
	e.bus.Publish(events.EventTradeOpened, pos)

	res.Action = ActionOpened
	if reversed {
		res.Action = ActionReversed
	}
	res.Qty = qty
	res.EntryPrice = entryPrice
	res.OrderID = ref.ID
	log.Printf("[executor] intent %s: %s %s %v %s @ %v", it.ID, res.Action, side, qty, it.Symbol, entryPrice)
	return res, nil
}

// closePosition cancels protective orders, places the reduce-only close,
// writes the ledger row and drops the tracked position.
func (e *Executor) closePosition(ctx context.Context, it *intent.TradeIntent, venue common.Venue, tracked db.Position, reason string) (float64, error) {
	for _, orderID := range []string{tracked.StopOrderID, tracked.TPOrderID} {
		if orderID == "" {
			continue
		}
		if err := venue.CancelOrder(ctx, it.Symbol, orderID); err != nil {
			log.Printf("[executor] cancel protective %s on %s failed: %v", orderID, it.Symbol, err)
		}
	}

	ref, err := venue.ClosePosition(ctx, it.Symbol, common.Side(tracked.Side), tracked.Qty)
	if err != nil {
		return 0, fmt.Errorf("close position: %w", err)
	}
	e.audit(ctx, it, string(common.OrderTypeMarket), common.Side(tracked.Side).Opposite(), tracked.Qty, 0, ref)

	exit := tracked.MarkPrice
	if detail, err := venue.GetOrder(ctx, it.Symbol, ref.ID); err == nil && detail.AvgPrice > 0 {
		exit = detail.AvgPrice
	}
	if exit == 0 {
		exit = tracked.EntryPrice
	}

	pnl := realizedPnL(tracked.Side, tracked.Qty, tracked.EntryPrice, exit)
	trade := db.Trade{
		ID:          uuid.NewString(),
		AccountID:   it.AccountID,
		Venue:       it.Venue,
		Symbol:      it.Symbol,
		Side:        tracked.Side,
		Qty:         tracked.Qty,
		EntryPrice:  tracked.EntryPrice,
		ExitPrice:   exit,
		PnL:         pnl,
		CloseReason: reason,
		OpenedAt:    tracked.SyncedAt,
		ClosedAt:    time.Now().UTC(),
	}
	if err := e.database.AppendTrade(ctx, trade); err != nil {
		log.Printf("[executor] ledger append failed for %s: %v", it.Symbol, err)
	}
	e.counters.Invalidate(it.AccountID, it.Venue)

	if err := e.store.Remove(ctx, it.AccountID, it.Venue, it.Symbol); err != nil {
		log.Printf("[executor] remove tracked %s failed: %v", it.Symbol, err)
	}
	e.bus.Publish(events.EventPositionClosed, trade)
	return exit, nil
}

// waitFlat polls until the venue reports no position for symbol, so a
// reversal entry does not race its own close fill.
func (e *Executor) waitFlat(ctx context.Context, venue common.Venue, symbol string) error {
	deadline := time.Now().Add(settleTimeout)
	for {
		open, err := common.HasOpenPosition(ctx, venue, symbol)
		if err != nil {
			return err
		}
		if !open {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("position %s still open after %s", symbol, settleTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

func (e *Executor) recordVenueFailure(it *intent.TradeIntent) {
	e.counters.RecordFailure(it.AccountID, it.Venue)
	e.venues.RecordFailure(it.AccountID, it.Venue)
}

func (e *Executor) audit(ctx context.Context, it *intent.TradeIntent, orderType string, side common.Side, qty, price float64, ref common.OrderRef) {
	row := db.Order{
		ID:           uuid.NewString(),
		AccountID:    it.AccountID,
		Venue:        it.Venue,
		Symbol:       it.Symbol,
		Side:         string(side),
		Type:         orderType,
		Qty:          qty,
		Price:        price,
		Status:       string(ref.Status),
		VenueOrderID: ref.ID,
	}
	if err := e.database.CreateOrder(ctx, row); err != nil {
		log.Printf("[executor] order audit write failed: %v", err)
	}
}

func realizedPnL(side string, qty, entry, exit float64) float64 {
	if side == string(common.SideSell) {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
