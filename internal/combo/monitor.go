// Package combo drives multi-leg option trades through their lifecycle:
// an entry leg plus protective TP and SL legs, polled until a terminal
// state is reached.
package combo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/events"
	"tradehook/internal/position"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// Window is a daily UTC trading window. Zero value means always inside.
type Window struct {
	start, end int // minutes from midnight
	set        bool
}

// ParseWindow parses "HH:MM-HH:MM" (UTC). Empty input disables the window.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return Window{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("trading window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseMinutes(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := parseMinutes(parts[1])
	if err != nil {
		return Window{}, err
	}
	return Window{start: start, end: end, set: true}, nil
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("trading window time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Inside reports whether t falls inside the window. Windows that wrap
// midnight are supported.
func (w Window) Inside(t time.Time) bool {
	if !w.set {
		return true
	}
	m := t.UTC().Hour()*60 + t.UTC().Minute()
	if w.start <= w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// Monitor polls non-terminal combo trades and applies status transitions.
// The transition queries are status-guarded, so a concurrent sweep or a
// restart can never apply the same closing transition twice.
type Monitor struct {
	database *db.Database
	venues   position.VenueResolver
	bus      *events.Bus
	window   Window
	interval time.Duration
}

func NewMonitor(database *db.Database, venues position.VenueResolver, bus *events.Bus, window Window, interval time.Duration) *Monitor {
	return &Monitor{database: database, venues: venues, bus: bus, window: window, interval: interval}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Printf("[combo] monitor started, interval %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[combo] monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all pending and open combos.
func (m *Monitor) Sweep(ctx context.Context) {
	trades, err := m.database.ListOptionTradesByStatus(ctx, db.OptionStatusPendingEntry, db.OptionStatusOpen)
	if err != nil {
		log.Printf("[combo] list trades: %v", err)
		return
	}
	now := time.Now().UTC()
	for i := range trades {
		t := &trades[i]
		venue, err := m.venues.Resolve(ctx, t.AccountID, t.Venue)
		if err != nil {
			log.Printf("[combo] %s: resolve venue: %v", t.ID, err)
			continue
		}
		switch t.Status {
		case db.OptionStatusPendingEntry:
			m.checkEntry(ctx, venue, t)
		case db.OptionStatusOpen:
			m.checkOpen(ctx, venue, t, now)
		}
	}
}

// checkEntry watches the entry leg. A fill opens the combo; a terminal
// non-fill cancels it and pulls the protective legs.
func (m *Monitor) checkEntry(ctx context.Context, venue common.Venue, t *db.OptionTrade) {
	detail, err := venue.GetOrder(ctx, t.OptionSymbol, t.EntryOrderID)
	if err != nil {
		log.Printf("[combo] %s: entry order query: %v", t.ID, err)
		return
	}
	switch detail.Status {
	case common.StatusFilled:
		entry := detail.AvgPrice
		if entry == 0 {
			entry = detail.Price
		}
		if err := m.database.MarkOptionTradeOpen(ctx, t.ID, entry); err != nil {
			log.Printf("[combo] %s: mark open: %v", t.ID, err)
			return
		}
		log.Printf("[combo] %s: entry filled @ %v, now open", t.ID, entry)
	case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
		m.cancelLegs(ctx, venue, t)
		if err := m.database.CancelOptionTrade(ctx, t.ID); err != nil {
			log.Printf("[combo] %s: cancel: %v", t.ID, err)
			return
		}
		log.Printf("[combo] %s: entry %s, combo cancelled", t.ID, detail.Status)
	}
}

// checkOpen watches the exit legs of an open combo and forces an exit when
// the trading window closes.
func (m *Monitor) checkOpen(ctx context.Context, venue common.Venue, t *db.OptionTrade, now time.Time) {
	if t.TPOrderID != "" {
		if detail, err := venue.GetOrder(ctx, t.OptionSymbol, t.TPOrderID); err == nil && detail.Status == common.StatusFilled {
			m.settle(ctx, venue, t, db.OptionStatusClosedTP, fillPrice(detail), t.SLOrderID)
			return
		}
	}
	if t.SLOrderID != "" {
		if detail, err := venue.GetOrder(ctx, t.OptionSymbol, t.SLOrderID); err == nil && detail.Status == common.StatusFilled {
			m.settle(ctx, venue, t, db.OptionStatusClosedSL, fillPrice(detail), t.TPOrderID)
			return
		}
	}

	// Forced-exit close order from a previous sweep.
	if t.CloseOrderID != "" {
		detail, err := venue.GetOrder(ctx, t.OptionSymbol, t.CloseOrderID)
		if err != nil {
			log.Printf("[combo] %s: close order query: %v", t.ID, err)
			return
		}
		switch detail.Status {
		case common.StatusFilled:
			m.settle(ctx, venue, t, db.OptionStatusClosed, fillPrice(detail), "")
			return
		case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
			// The venue dropped the close order. Clear it and resubmit;
			// the exit is already committed, window or not.
			log.Printf("[combo] %s: close order %s %s, resubmitting exit", t.ID, t.CloseOrderID, detail.Status)
			if err := m.database.SetOptionTradeCloseOrder(ctx, t.ID, ""); err != nil {
				log.Printf("[combo] %s: clear close order: %v", t.ID, err)
				return
			}
			t.CloseOrderID = ""
			m.forceExit(ctx, venue, t)
			return
		default:
			return
		}
	}

	if !m.window.Inside(now) {
		m.forceExit(ctx, venue, t)
	}
}

// forceExit pulls the protective legs and sends a reduce-only market close.
// The fill is picked up on a later sweep via CloseOrderID.
func (m *Monitor) forceExit(ctx context.Context, venue common.Venue, t *db.OptionTrade) {
	m.cancelLegs(ctx, venue, t)
	ref, err := venue.ClosePosition(ctx, t.OptionSymbol, common.Side(t.Side), t.Qty)
	if err != nil {
		log.Printf("[combo] %s: forced exit failed, retrying next sweep: %v", t.ID, err)
		return
	}
	if err := m.database.SetOptionTradeCloseOrder(ctx, t.ID, ref.ID); err != nil {
		log.Printf("[combo] %s: record close order: %v", t.ID, err)
		return
	}
	t.CloseOrderID = ref.ID
	log.Printf("[combo] %s: outside trading window, forced exit order %s", t.ID, ref.ID)
}

// settle applies a terminal closing transition, cancels the surviving
// protective leg and writes the ledger row. The status guard in the UPDATE
// makes the transition and the ledger append happen exactly once even when
// both exit legs report filled in the same sweep.
func (m *Monitor) settle(ctx context.Context, venue common.Venue, t *db.OptionTrade, status string, exitPrice float64, siblingOrderID string) {
	pnl := comboPnL(t.Side, t.Qty, t.Multiplier, t.EntryPrice, exitPrice)
	if err := m.database.CloseOptionTrade(ctx, t.ID, status, exitPrice, pnl); err != nil {
		log.Printf("[combo] %s: close to %s skipped: %v", t.ID, status, err)
		return
	}
	if siblingOrderID != "" {
		if err := venue.CancelOrder(ctx, t.OptionSymbol, siblingOrderID); err != nil {
			log.Printf("[combo] %s: cancel sibling leg %s: %v", t.ID, siblingOrderID, err)
		}
	}

	trade := db.Trade{
		ID:          uuid.NewString(),
		AccountID:   t.AccountID,
		Venue:       t.Venue,
		Symbol:      t.OptionSymbol,
		Side:        t.Side,
		Qty:         t.Qty,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   exitPrice,
		PnL:         pnl,
		CloseReason: status,
		OpenedAt:    t.CreatedAt,
		ClosedAt:    time.Now().UTC(),
	}
	if err := m.database.AppendTrade(ctx, trade); err != nil {
		log.Printf("[combo] %s: ledger append: %v", t.ID, err)
	}
	log.Printf("[combo] %s: %s @ %v, pnl=%.2f", t.ID, status, exitPrice, pnl)
	m.bus.Publish(events.EventComboClosed, trade)
}

func (m *Monitor) cancelLegs(ctx context.Context, venue common.Venue, t *db.OptionTrade) {
	for _, orderID := range []string{t.TPOrderID, t.SLOrderID} {
		if orderID == "" {
			continue
		}
		if err := venue.CancelOrder(ctx, t.OptionSymbol, orderID); err != nil {
			log.Printf("[combo] %s: cancel leg %s: %v", t.ID, orderID, err)
		}
	}
}

func fillPrice(d common.OrderDetail) float64 {
	if d.AvgPrice > 0 {
		return d.AvgPrice
	}
	return d.Price
}

// comboPnL is the realized result of one combo in quote currency.
func comboPnL(side string, qty, multiplier, entry, exit float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	diff := exit - entry
	if side == string(common.SideSell) {
		diff = entry - exit
	}
	return diff * multiplier * qty
}
