// Package fxbroker implements the Venue contract for a REST forex broker.
// Authentication is a bearer token obtained from a credential exchange and
// refreshed before expiry; every call carries it in the Authorization
// header. Quantities are whole lots.
package fxbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradehook/pkg/venues/common"
)

// Config holds broker credentials.
type Config struct {
	Username string
	Password string
	AppID    string
	Sandbox  bool
}

// Client talks to the broker REST API.
type Client struct {
	cfg       Config
	baseURL   string
	transport *common.Transport
	token     *tokenSource
}

// New creates a broker client.
func New(cfg Config) *Client {
	base := "https://live.fxbroker.com/v1"
	if cfg.Sandbox {
		base = "https://demo.fxbroker.com/v1"
	}
	c := &Client{
		cfg:       cfg,
		baseURL:   base,
		transport: common.NewTransport("fxbroker", 5, 10),
	}
	c.token = newTokenSource(c.exchangeToken)
	return c
}

func (c *Client) Name() string { return "fxbroker" }

// nativeSymbol maps canonical "EUR/USD" to the broker's "EURUSD".
func nativeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// QtyPrecision is 0: the broker trades whole lots only.
func (c *Client) QtyPrecision(string) int { return 0 }

// exchangeToken swaps credentials for an access token.
func (c *Client) exchangeToken(ctx context.Context) (string, time.Time, error) {
	payload, _ := json.Marshal(map[string]string{
		"name":     c.cfg.Username,
		"password": c.cfg.Password,
		"appId":    c.cfg.AppID,
	})
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/auth/accesstoken", strings.NewReader(string(payload)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	var out struct {
		AccessToken    string `json:"accessToken"`
		ExpirationTime string `json:"expirationTime"`
		ErrorText      string `json:"errorText"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if out.ErrorText != "" {
		return "", time.Time{}, common.NewError("fxbroker", common.KindAuth, out.ErrorText)
	}
	exp, err := time.Parse(time.RFC3339, out.ExpirationTime)
	if err != nil {
		exp = time.Now().Add(time.Hour)
	}
	return out.AccessToken, exp, nil
}

// authedCall sends a bearer-authenticated request, refreshing the token when
// needed.
func (c *Client) authedCall(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := c.token.get(ctx)
	if err != nil {
		return nil, err
	}
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		var reader *strings.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			reader = strings.NewReader(string(b))
		} else {
			reader = strings.NewReader("")
		}
		req, err := http.NewRequest(method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil && common.Kind(err) == common.KindAuth {
		// Token may have been revoked server-side; drop it so the next call
		// performs a fresh exchange.
		c.token.invalidate()
	}
	return body, err
}

// Balance returns the account cash balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/account/balance", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		CashBalance float64 `json:"cashBalance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return out.CashBalance, nil
}

// AvailableMargin returns buying power available for new positions.
func (c *Client) AvailableMargin(ctx context.Context) (float64, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/account/balance", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		BuyingPower float64 `json:"buyingPower"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode margin: %w", err)
	}
	return out.BuyingPower, nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]common.PositionInfo, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	var raw []brokerPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.PositionInfo, 0, len(raw))
	for _, p := range raw {
		if p.NetPos == 0 {
			continue
		}
		out = append(out, p.normalize())
	}
	return out, nil
}

// Position returns the position for symbol, or nil when flat.
func (c *Client) Position(ctx context.Context, symbol string) (*common.PositionInfo, error) {
	all, err := c.Positions(ctx)
	if err != nil {
		return nil, err
	}
	native := nativeSymbol(symbol)
	for i := range all {
		if all[i].Symbol == native {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Ticker returns the last quoted price.
func (c *Client) Ticker(ctx context.Context, symbol string) (common.Ticker, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/quotes?symbol="+url.QueryEscape(nativeSymbol(symbol)), nil)
	if err != nil {
		return common.Ticker{}, err
	}
	var out struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.Ticker{}, fmt.Errorf("decode quote: %w", err)
	}
	return common.Ticker{Symbol: symbol, Last: out.Last, Time: time.Now()}, nil
}

// PlaceMarketOrder places a market order for whole lots.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "Market", qty, 0, 0, false)
}

// PlaceLimitOrder places a limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "Limit", qty, price, 0, false)
}

// PlaceStopLoss places a stop order triggered at stopPrice.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "Stop", qty, 0, stopPrice, true)
}

// PlaceTakeProfit places a limit order at targetPrice flagged reduce-only.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, targetPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "Limit", qty, targetPrice, 0, true)
}

// ClosePosition places a reduce-only market order on the opposite side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side.Opposite(), "Market", qty, 0, 0, true)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side common.Side, orderType string, qty, price, stopPrice float64, reduceOnly bool) (common.OrderRef, error) {
	lots := int(math.Round(qty))
	if lots <= 0 {
		return common.OrderRef{}, common.NewError("fxbroker", common.KindValidation, "quantity rounds to zero lots")
	}
	payload := map[string]any{
		"symbol":     nativeSymbol(symbol),
		"action":     brokerSide(side),
		"orderType":  orderType,
		"orderQty":   lots,
		"reduceOnly": reduceOnly,
	}
	if price > 0 {
		payload["price"] = price
	}
	if stopPrice > 0 {
		payload["stopPrice"] = stopPrice
	}
	body, err := c.authedCall(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return common.OrderRef{}, err
	}
	var out struct {
		OrderID   int64  `json:"orderId"`
		Status    string `json:"ordStatus"`
		FailureID int    `json:"failureReasonId"`
		Failure   string `json:"failureText"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.OrderRef{}, fmt.Errorf("decode order: %w", err)
	}
	if out.Failure != "" {
		return common.OrderRef{}, &common.VenueError{
			Kind:       common.KindVenueRejected,
			Venue:      "fxbroker",
			Reason:     out.Failure,
			NativeCode: fmt.Sprintf("%d", out.FailureID),
		}
	}
	return common.OrderRef{ID: fmt.Sprintf("%d", out.OrderID), Status: mapStatus(out.Status)}, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, _ string, orderID string) error {
	_, err := c.authedCall(ctx, http.MethodDelete, "/orders/"+orderID, nil)
	return err
}

// GetOrder queries a single order.
func (c *Client) GetOrder(ctx context.Context, _ string, orderID string) (common.OrderDetail, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return common.OrderDetail{}, err
	}
	var o brokerOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return common.OrderDetail{}, fmt.Errorf("decode order: %w", err)
	}
	return o.normalize(), nil
}

// OpenOrders lists working orders; symbol may be empty for all.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	body, err := c.authedCall(ctx, http.MethodGet, "/orders?status=working", nil)
	if err != nil {
		return nil, err
	}
	var raw []brokerOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	native := nativeSymbol(symbol)
	out := make([]common.OpenOrder, 0, len(raw))
	for _, o := range raw {
		if symbol != "" && o.Symbol != native {
			continue
		}
		d := o.normalize()
		out = append(out, common.OpenOrder{
			ID: d.ID, Symbol: d.Symbol, Side: d.Side, Type: d.Type,
			Qty: d.Qty, Price: d.Price, CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

type brokerPosition struct {
	Symbol   string  `json:"symbol"`
	NetPos   float64 `json:"netPos"`
	NetPrice float64 `json:"netPrice"`
	Mark     float64 `json:"markPrice"`
	OpenPnL  float64 `json:"openPnl"`
}

func (p brokerPosition) normalize() common.PositionInfo {
	side := common.SideBuy
	qty := p.NetPos
	if qty < 0 {
		side = common.SideSell
		qty = -qty
	}
	return common.PositionInfo{
		Symbol:        p.Symbol,
		Side:          side,
		Qty:           qty,
		EntryPrice:    p.NetPrice,
		MarkPrice:     p.Mark,
		UnrealizedPnL: p.OpenPnL,
		Leverage:      1,
	}
}

type brokerOrder struct {
	OrderID   int64   `json:"orderId"`
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	OrderType string  `json:"orderType"`
	OrderQty  float64 `json:"orderQty"`
	FilledQty float64 `json:"cumQty"`
	Price     float64 `json:"price"`
	AvgPrice  float64 `json:"avgPx"`
	Status    string  `json:"ordStatus"`
	Timestamp string  `json:"timestamp"`
}

func (o brokerOrder) normalize() common.OrderDetail {
	created, _ := time.Parse(time.RFC3339, o.Timestamp)
	side := common.SideBuy
	if strings.EqualFold(o.Action, "Sell") {
		side = common.SideSell
	}
	t := common.OrderTypeMarket
	switch o.OrderType {
	case "Limit":
		t = common.OrderTypeLimit
	case "Stop":
		t = common.OrderTypeStopLoss
	}
	return common.OrderDetail{
		ID:        fmt.Sprintf("%d", o.OrderID),
		Symbol:    o.Symbol,
		Side:      side,
		Type:      t,
		Qty:       o.OrderQty,
		FilledQty: o.FilledQty,
		Price:     o.Price,
		AvgPrice:  o.AvgPrice,
		Status:    mapStatus(o.Status),
		CreatedAt: created,
	}
}

func brokerSide(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "Working", "Pending":
		return common.StatusNew
	case "PartialFill":
		return common.StatusPartial
	case "Filled":
		return common.StatusFilled
	case "Canceled":
		return common.StatusCanceled
	case "Rejected":
		return common.StatusRejected
	case "Expired":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
