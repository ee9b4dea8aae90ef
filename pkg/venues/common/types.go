package common

import "time"

// Side denotes order side. It is always the action side of the order being
// placed, never an inferred close side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the reduce side for a position held on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus normalizes venue status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether no further status transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRef is the venue ack for a placed order.
type OrderRef struct {
	ID     string
	Status OrderStatus
}

// OrderDetail is the normalized view of a queried order.
type OrderDetail struct {
	ID        string
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       float64
	FilledQty float64
	Price     float64
	AvgPrice  float64
	Status    OrderStatus
	CreatedAt time.Time
}

// OpenOrder is one entry of a venue's open-orders listing.
type OpenOrder struct {
	ID        string
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       float64
	Price     float64
	CreatedAt time.Time
}

// PositionInfo is a normalized venue position.
type PositionInfo struct {
	Symbol        string
	Side          Side
	Qty           float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
}

// Ticker is a last-price snapshot, used when an entry is a market order and
// a price must be derived.
type Ticker struct {
	Symbol string
	Last   float64
	Time   time.Time
}
