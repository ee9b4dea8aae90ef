// Package common defines the capability contract every trading venue adapter
// implements, plus the shared transport, signing-time and error plumbing the
// concrete adapters are built on.
package common

import "context"

// Venue abstracts a trading venue behind one operation set. Concrete
// implementations hide their own authentication scheme, retry policy and
// symbol normalization; callers only ever see this contract and the
// normalized error kinds in errors.go.
type Venue interface {
	Name() string

	Balance(ctx context.Context) (float64, error)
	AvailableMargin(ctx context.Context) (float64, error)

	// Positions returns all open positions. Position returns nil when the
	// venue reports no open position for symbol; absence is a value, not an
	// error.
	Positions(ctx context.Context) ([]PositionInfo, error)
	Position(ctx context.Context, symbol string) (*PositionInfo, error)

	Ticker(ctx context.Context, symbol string) (Ticker, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderRef, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (OrderRef, error)
	PlaceStopLoss(ctx context.Context, symbol string, side Side, qty, stopPrice float64) (OrderRef, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side Side, qty, targetPrice float64) (OrderRef, error)

	// ClosePosition places a reduce-only order on the opposite side of the
	// open position. side is the side of the position being closed.
	ClosePosition(ctx context.Context, symbol string, side Side, qty float64) (OrderRef, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (OrderDetail, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// QtyPrecision returns the decimal places quantity is rounded to for
	// symbol on this venue.
	QtyPrecision(symbol string) int
}

// HasOpenPosition reports whether the venue has a non-zero position for
// symbol.
func HasOpenPosition(ctx context.Context, v Venue, symbol string) (bool, error) {
	p, err := v.Position(ctx, symbol)
	if err != nil {
		return false, err
	}
	return p != nil && p.Qty != 0, nil
}
