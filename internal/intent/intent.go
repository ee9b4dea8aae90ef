// Package intent normalizes inbound webhook alerts into trade intents the
// orchestrator consumes.
package intent

import (
	"strings"
	"time"

	"tradehook/pkg/venues/common"
)

// Action is the normalized intent action.
type Action string

const (
	ActionOpenLong  Action = "open-long"
	ActionOpenShort Action = "open-short"
	ActionClose     Action = "close"
)

// Side returns the entry side for open actions.
func (a Action) Side() common.Side {
	if a == ActionOpenShort {
		return common.SideSell
	}
	return common.SideBuy
}

// TradeIntent is one normalized instruction to open, reverse or close a
// position. Immutable; consumed once by the orchestrator.
type TradeIntent struct {
	ID        string
	AccountID string
	Venue     string
	Symbol    string
	Action    Action

	OrderType  common.OrderType // market or limit
	LimitPrice float64          // required for limit entries

	// Protective levels: percent values are percentage of margin, absolute
	// values are used verbatim. Zero means not set.
	StopLossPct   float64
	TakeProfitPct float64
	StopLossAbs   float64
	TakeProfitAbs float64

	// Sizing: explicit USD notional beats every configured default.
	SizeUSD  float64
	Leverage float64

	SignalTime time.Time
	ReceivedAt time.Time
}

// Alert is the raw webhook document.
type Alert struct {
	Secret          string  `json:"secret"`
	Action          string  `json:"action"`
	Symbol          string  `json:"symbol"`
	Exchange        string  `json:"exchange"`
	OrderType       string  `json:"orderType"`
	Price           float64 `json:"price"`
	StopLossPct     float64 `json:"stop_loss_percent"`
	StopLossAlias   float64 `json:"stopLoss"`
	TakeProfitPct   float64 `json:"take_profit_percent"`
	TakeProfitAlias float64 `json:"takeProfit"`
	StopLossAbs     float64 `json:"stop_loss_price"`
	TakeProfitAbs   float64 `json:"take_profit_price"`
	SizeUSD         float64 `json:"position_size_usd"`
	Leverage        float64 `json:"leverage"`
	Timestamp       int64   `json:"timestamp"` // unix seconds of the signal
}

// ValidationError reports a malformed alert; it is rejected before any venue
// call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid alert: " + e.Field + ": " + e.Reason
}

// FromAlert validates and normalizes a webhook alert. The caller resolves
// the account from the secret before calling.
func FromAlert(a Alert, id, accountID string, now time.Time) (*TradeIntent, error) {
	action, err := parseAction(a.Action)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "required"}
	}
	if strings.TrimSpace(a.Exchange) == "" {
		return nil, &ValidationError{Field: "exchange", Reason: "required"}
	}

	orderType := common.OrderTypeMarket
	switch strings.ToLower(a.OrderType) {
	case "", "market":
	case "limit":
		orderType = common.OrderTypeLimit
		if a.Price <= 0 {
			return nil, &ValidationError{Field: "price", Reason: "required for limit orders"}
		}
	default:
		return nil, &ValidationError{Field: "orderType", Reason: "must be market or limit"}
	}

	slPct := a.StopLossPct
	if slPct == 0 {
		slPct = a.StopLossAlias
	}
	tpPct := a.TakeProfitPct
	if tpPct == 0 {
		tpPct = a.TakeProfitAlias
	}
	if slPct < 0 || tpPct < 0 || a.SizeUSD < 0 {
		return nil, &ValidationError{Field: "levels", Reason: "negative values not allowed"}
	}

	signalTime := now
	if a.Timestamp > 0 {
		signalTime = time.Unix(a.Timestamp, 0).UTC()
	}

	leverage := a.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	return &TradeIntent{
		ID:            id,
		AccountID:     accountID,
		Venue:         strings.ToLower(a.Exchange),
		Symbol:        strings.ToUpper(a.Symbol),
		Action:        action,
		OrderType:     orderType,
		LimitPrice:    a.Price,
		StopLossPct:   slPct,
		TakeProfitPct: tpPct,
		StopLossAbs:   a.StopLossAbs,
		TakeProfitAbs: a.TakeProfitAbs,
		SizeUSD:       a.SizeUSD,
		Leverage:      leverage,
		SignalTime:    signalTime,
		ReceivedAt:    now,
	}, nil
}

func parseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return ActionOpenLong, nil
	case "sell", "short":
		return ActionOpenShort, nil
	case "close":
		return ActionClose, nil
	default:
		return "", &ValidationError{Field: "action", Reason: "must be buy, sell or close"}
	}
}

// IsEntry reports whether the intent opens a position.
func (t *TradeIntent) IsEntry() bool {
	return t.Action != ActionClose
}
