package position

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/events"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// VenueResolver hands back a ready adapter for one account's credentials on
// one venue. Implemented by the venue manager.
type VenueResolver interface {
	Resolve(ctx context.Context, accountID, venueType string) (common.Venue, error)
}

// Reconciler periodically compares tracked positions against what each venue
// actually reports. The venue is the source of truth: rows the venue no
// longer has are treated as closed outside the system and removed, venue
// positions the store never saw are adopted, and matching rows get their
// mark price and unrealized PnL refreshed.
type Reconciler struct {
	store    *Store
	database *db.Database
	venues   VenueResolver
	bus      *events.Bus
	interval time.Duration
}

func NewReconciler(store *Store, database *db.Database, venues VenueResolver, bus *events.Bus, interval time.Duration) *Reconciler {
	return &Reconciler{store: store, database: database, venues: venues, bus: bus, interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled. One venue
// failing does not stop the sweep for the others.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Printf("[reconcile] started, interval %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[reconcile] stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass over every account+venue pair that has
// at least one tracked position.
func (r *Reconciler) Sweep(ctx context.Context) {
	type pair struct{ accountID, venue string }
	seen := make(map[pair]bool)
	for _, p := range r.store.List() {
		seen[pair{p.AccountID, p.Venue}] = true
	}
	for pr := range seen {
		if err := r.sweepPair(ctx, pr.accountID, pr.venue); err != nil {
			log.Printf("[reconcile] %s/%s sweep failed: %v", pr.accountID, pr.venue, err)
		}
	}
}

func (r *Reconciler) sweepPair(ctx context.Context, accountID, venueType string) error {
	venue, err := r.venues.Resolve(ctx, accountID, venueType)
	if err != nil {
		return err
	}
	remote, err := venue.Positions(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]common.PositionInfo, len(remote))
	for _, p := range remote {
		if p.Qty != 0 {
			bySymbol[p.Symbol] = p
		}
	}

	for _, tracked := range r.store.ListAccount(accountID) {
		if tracked.Venue != venueType {
			continue
		}
		info, stillOpen := bySymbol[tracked.Symbol]
		delete(bySymbol, tracked.Symbol)

		if !stillOpen {
			r.closeUntracked(ctx, tracked)
			continue
		}
		if err := r.store.UpdateMark(ctx, accountID, venueType, tracked.Symbol, info.MarkPrice, info.UnrealizedPnL); err != nil {
			log.Printf("[reconcile] %s/%s %s mark update failed: %v", accountID, venueType, tracked.Symbol, err)
		}
	}

	// Anything left was opened outside the system; adopt it so risk limits
	// count it.
	for _, info := range bySymbol {
		adopted := db.Position{
			AccountID:     accountID,
			Venue:         venueType,
			Symbol:        info.Symbol,
			Side:          string(info.Side),
			Qty:           info.Qty,
			EntryPrice:    info.EntryPrice,
			Leverage:      info.Leverage,
			MarkPrice:     info.MarkPrice,
			UnrealizedPnL: info.UnrealizedPnL,
		}
		if err := r.store.Set(ctx, adopted); err != nil {
			log.Printf("[reconcile] %s/%s adopt %s failed: %v", accountID, venueType, info.Symbol, err)
			continue
		}
		log.Printf("[reconcile] adopted external position %s/%s %s qty=%v", accountID, venueType, info.Symbol, info.Qty)
		r.bus.Publish(events.EventPositionSynced, adopted)
	}
	return nil
}

// closeUntracked handles a position the venue no longer reports: it was
// closed manually or by a venue-side trigger.
func (r *Reconciler) closeUntracked(ctx context.Context, p db.Position) {
	CloseExternal(ctx, r.store, r.database, r.bus, p)
}

// CloseExternal settles a tracked position that was closed on the venue
// side. The ledger gets a row so risk counters reflect the realized result;
// the exit price is the last known mark, the best figure available without
// the fill. Shared by the reconciler and the push-feed consumer.
func CloseExternal(ctx context.Context, store *Store, database *db.Database, bus *events.Bus, p db.Position) {
	exit := p.MarkPrice
	if exit == 0 {
		exit = p.EntryPrice
	}
	pnl := realizedPnL(p.Side, p.Qty, p.EntryPrice, exit)
	trade := db.Trade{
		ID:          uuid.NewString(),
		AccountID:   p.AccountID,
		Venue:       p.Venue,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Qty:         p.Qty,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		PnL:         pnl,
		CloseReason: "external",
		OpenedAt:    p.SyncedAt,
		ClosedAt:    time.Now().UTC(),
	}
	if err := database.AppendTrade(ctx, trade); err != nil {
		log.Printf("[position] ledger append for %s/%s %s failed: %v", p.AccountID, p.Venue, p.Symbol, err)
	}
	if err := store.Remove(ctx, p.AccountID, p.Venue, p.Symbol); err != nil {
		log.Printf("[position] remove %s/%s %s failed: %v", p.AccountID, p.Venue, p.Symbol, err)
		return
	}
	log.Printf("[position] %s/%s %s closed externally, pnl=%.2f", p.AccountID, p.Venue, p.Symbol, pnl)
	bus.Publish(events.EventPositionClosed, trade)
}

func realizedPnL(side string, qty, entry, exit float64) float64 {
	if side == string(common.SideSell) {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
