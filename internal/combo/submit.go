package combo

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"tradehook/internal/position"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// Request describes a combo to submit: a limit entry on an option contract
// plus protective take-profit and stop-loss legs.
type Request struct {
	AccountID    string  `json:"-"`
	Venue        string  `json:"venue"`
	Underlying   string  `json:"underlying"`
	OptionSymbol string  `json:"option_symbol"`
	Side         string  `json:"side"`
	Qty          float64 `json:"qty"`
	Multiplier   float64 `json:"multiplier"`
	EntryPrice   float64 `json:"entry_price"`
	TPPrice      float64 `json:"tp_price"`
	SLPrice      float64 `json:"sl_price"`
}

func (r Request) validate() error {
	if r.Venue == "" || r.OptionSymbol == "" {
		return fmt.Errorf("venue and option_symbol are required")
	}
	side := common.Side(r.Side)
	if side != common.SideBuy && side != common.SideSell {
		return fmt.Errorf("side must be BUY or SELL")
	}
	if r.Qty <= 0 {
		return fmt.Errorf("qty must be positive")
	}
	if r.EntryPrice <= 0 {
		return fmt.Errorf("entry_price must be positive")
	}
	return nil
}

// Submit places the legs and persists the combo in pending_entry. The entry
// leg is placed first; if a protective leg fails afterwards the combo is
// still recorded and the monitor drives it with whatever legs exist.
func Submit(ctx context.Context, database *db.Database, venues position.VenueResolver, req Request) (*db.OptionTrade, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	venue, err := venues.Resolve(ctx, req.AccountID, req.Venue)
	if err != nil {
		return nil, fmt.Errorf("resolve venue: %w", err)
	}

	side := common.Side(req.Side)
	entryRef, err := venue.PlaceLimitOrder(ctx, req.OptionSymbol, side, req.Qty, req.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("entry leg: %w", err)
	}

	trade := db.OptionTrade{
		ID:           uuid.NewString(),
		AccountID:    req.AccountID,
		Venue:        req.Venue,
		Underlying:   req.Underlying,
		OptionSymbol: req.OptionSymbol,
		Side:         req.Side,
		Qty:          req.Qty,
		Multiplier:   req.Multiplier,
		EntryOrderID: entryRef.ID,
		Status:       db.OptionStatusPendingEntry,
	}

	exitSide := side.Opposite()
	if req.TPPrice > 0 {
		if ref, err := venue.PlaceTakeProfit(ctx, req.OptionSymbol, exitSide, req.Qty, req.TPPrice); err != nil {
			log.Printf("[combo] take-profit leg for %s failed: %v", req.OptionSymbol, err)
		} else {
			trade.TPOrderID = ref.ID
		}
	}
	if req.SLPrice > 0 {
		if ref, err := venue.PlaceStopLoss(ctx, req.OptionSymbol, exitSide, req.Qty, req.SLPrice); err != nil {
			log.Printf("[combo] stop-loss leg for %s failed: %v", req.OptionSymbol, err)
		} else {
			trade.SLOrderID = ref.ID
		}
	}

	if err := database.CreateOptionTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist combo: %w", err)
	}
	log.Printf("[combo] %s submitted: %s %s x%v entry %s", trade.ID, req.Side, req.OptionSymbol, req.Qty, entryRef.ID)
	return &trade, nil
}
