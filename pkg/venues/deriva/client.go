// Package deriva implements the Venue contract for the Deriva perpetuals
// DEX. Private calls carry a signature over a canonical parameter string and
// a strictly increasing microsecond nonce; replays of an old nonce are
// rejected venue-side.
package deriva

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradehook/pkg/venues/common"
)

// Config holds the account address and signing key.
type Config struct {
	Address    string // account address, 0x-prefixed
	SigningKey string // private signing key material
	Sandbox    bool
}

// Client talks to the Deriva REST API.
type Client struct {
	cfg       Config
	baseURL   string
	transport *common.Transport
	timeSync  *common.TimeSync
	nonces    *nonceSource
}

// New creates a Deriva client.
func New(cfg Config) *Client {
	base := "https://api.deriva.exchange"
	if cfg.Sandbox {
		base = "https://api.testnet.deriva.exchange"
	}
	c := &Client{
		cfg:       cfg,
		baseURL:   base,
		transport: common.NewTransport("deriva", 10, 20),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	c.nonces = newNonceSource(func() int64 {
		if c.timeSync != nil && c.timeSync.Offset() != 0 {
			return c.timeSync.NowMicros()
		}
		return time.Now().UnixMicro()
	})
	return c
}

func (c *Client) Name() string { return "deriva" }

// nativeSymbol maps canonical "ETH/USDC" to Deriva's coin name "ETH".
func nativeSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return strings.ToUpper(symbol[:i])
	}
	return strings.ToUpper(symbol)
}

// QtyPrecision returns quantity decimal places; Deriva sizes are 4dp.
func (c *Client) QtyPrecision(string) int { return 4 }

func (c *Client) serverTime() (int64, error) {
	resp, err := http.Get(c.baseURL + "/info/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Time int64 `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Time, nil
}

// StartTimeSync begins periodic clock sync against the venue.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// signedCall posts a signed action. Nonce and signature are regenerated per
// retry attempt: the venue rejects reused nonces.
func (c *Client) signedCall(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if c.cfg.Address == "" || c.cfg.SigningKey == "" {
		return nil, common.NewError("deriva", common.KindAuth, "address and signing key required")
	}
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		nonce := c.nonces.next()
		sig := signPayload(params, nonce, c.cfg.SigningKey)

		envelope := map[string]any{
			"address":   c.cfg.Address,
			"nonce":     nonce,
			"signature": sig,
			"action":    params,
		}
		b, err := json.Marshal(envelope)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(string(b)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return body, err
}

// infoCall posts an unsigned info query.
func (c *Client) infoCall(ctx context.Context, payload map[string]string) ([]byte, error) {
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/info", strings.NewReader(string(b)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return body, err
}

type accountState struct {
	Withdrawable string `json:"withdrawable"`
	AccountValue string `json:"accountValue"`
	Positions    []struct {
		Coin       string  `json:"coin"`
		Szi        string  `json:"szi"`
		EntryPx    string  `json:"entryPx"`
		MarkPx     string  `json:"markPx"`
		Unrealized string  `json:"unrealizedPnl"`
		Leverage   float64 `json:"leverage"`
	} `json:"assetPositions"`
}

func (c *Client) state(ctx context.Context) (*accountState, error) {
	body, err := c.infoCall(ctx, map[string]string{
		"type": "accountState", "address": c.cfg.Address,
	})
	if err != nil {
		return nil, err
	}
	var st accountState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode account state: %w", err)
	}
	return &st, nil
}

// Balance returns total account value.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(st.AccountValue), nil
}

// AvailableMargin returns the withdrawable (free) margin.
func (c *Client) AvailableMargin(ctx context.Context) (float64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(st.Withdrawable), nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]common.PositionInfo, error) {
	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.PositionInfo, 0, len(st.Positions))
	for _, p := range st.Positions {
		qty := parseFloat(p.Szi)
		if qty == 0 {
			continue
		}
		side := common.SideBuy
		if qty < 0 {
			side = common.SideSell
			qty = -qty
		}
		out = append(out, common.PositionInfo{
			Symbol:        p.Coin,
			Side:          side,
			Qty:           qty,
			EntryPrice:    parseFloat(p.EntryPx),
			MarkPrice:     parseFloat(p.MarkPx),
			UnrealizedPnL: parseFloat(p.Unrealized),
			Leverage:      p.Leverage,
		})
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

// Ticker returns the mid/mark price for symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (common.Ticker, error) {
	body, err := c.infoCall(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return common.Ticker{}, err
	}
	var mids map[string]string
	if err := json.Unmarshal(body, &mids); err != nil {
		return common.Ticker{}, fmt.Errorf("decode mids: %w", err)
	}
	mid, ok := mids[nativeSymbol(symbol)]
	if !ok {
		return common.Ticker{}, common.NewError("deriva", common.KindValidation, "unknown symbol "+symbol)
	}
	return common.Ticker{Symbol: symbol, Last: parseFloat(mid), Time: time.Now()}, nil
}

// PlaceMarketOrder places an aggressive IOC order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "market", qty, 0, 0, false)
}

// PlaceLimitOrder places a resting GTC order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "limit", qty, price, 0, false)
}

// PlaceStopLoss places a trigger order executing at market once stopPrice
// trades.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "stopMarket", qty, 0, stopPrice, true)
}

// PlaceTakeProfit places a take-profit trigger order.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, targetPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side, "takeProfitMarket", qty, 0, targetPrice, true)
}

// ClosePosition places a reduce-only market order on the opposite side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, symbol, side.Opposite(), "market", qty, 0, 0, true)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side common.Side, orderType string, qty, price, triggerPx float64, reduceOnly bool) (common.OrderRef, error) {
	params := map[string]string{
		"type":       "order",
		"coin":       nativeSymbol(symbol),
		"isBuy":      strconv.FormatBool(side == common.SideBuy),
		"sz":         strconv.FormatFloat(qty, 'f', -1, 64),
		"orderType":  orderType,
		"reduceOnly": strconv.FormatBool(reduceOnly),
	}
	if price > 0 {
		params["limitPx"] = strconv.FormatFloat(price, 'f', -1, 64)
	}
	if triggerPx > 0 {
		params["triggerPx"] = strconv.FormatFloat(triggerPx, 'f', -1, 64)
	}
	body, err := c.signedCall(ctx, "/exchange", params)
	if err != nil {
		return common.OrderRef{}, err
	}
	var out struct {
		Status string `json:"status"`
		Oid    int64  `json:"oid"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.OrderRef{}, fmt.Errorf("decode order response: %w", err)
	}
	if out.Error != "" {
		return common.OrderRef{}, &common.VenueError{
			Kind: common.KindVenueRejected, Venue: "deriva", Reason: out.Error,
		}
	}
	return common.OrderRef{ID: strconv.FormatInt(out.Oid, 10), Status: mapStatus(out.Status)}, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.signedCall(ctx, "/exchange", map[string]string{
		"type": "cancel",
		"coin": nativeSymbol(symbol),
		"oid":  orderID,
	})
	return err
}

// GetOrder queries order status.
func (c *Client) GetOrder(ctx context.Context, _ string, orderID string) (common.OrderDetail, error) {
	body, err := c.infoCall(ctx, map[string]string{
		"type": "orderStatus", "address": c.cfg.Address, "oid": orderID,
	})
	if err != nil {
		return common.OrderDetail{}, err
	}
	var o derivaOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return common.OrderDetail{}, fmt.Errorf("decode order: %w", err)
	}
	return o.normalize(), nil
}

// OpenOrders lists resting orders; symbol may be empty for all coins.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	body, err := c.infoCall(ctx, map[string]string{
		"type": "openOrders", "address": c.cfg.Address,
	})
	if err != nil {
		return nil, err
	}
	var raw []derivaOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	native := nativeSymbol(symbol)
	out := make([]common.OpenOrder, 0, len(raw))
	for _, o := range raw {
		if symbol != "" && o.Coin != native {
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

type derivaOrder struct {
	Oid       int64  `json:"oid"`
	Coin      string `json:"coin"`
	IsBuy     bool   `json:"isBuy"`
	Sz        string `json:"sz"`
	FilledSz  string `json:"filledSz"`
	LimitPx   string `json:"limitPx"`
	AvgPx     string `json:"avgPx"`
	OrderType string `json:"orderType"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (o derivaOrder) normalize() common.OrderDetail {
	side := common.SideSell
	if o.IsBuy {
		side = common.SideBuy
	}
	t := common.OrderTypeLimit
	switch o.OrderType {
	case "market":
		t = common.OrderTypeMarket
	case "stopMarket":
		t = common.OrderTypeStopLoss
	case "takeProfitMarket":
		t = common.OrderTypeTakeProfit
	}
	return common.OrderDetail{
		ID:        strconv.FormatInt(o.Oid, 10),
		Symbol:    o.Coin,
		Side:      side,
		Type:      t,
		Qty:       parseFloat(o.Sz),
		FilledQty: parseFloat(o.FilledSz),
		Price:     parseFloat(o.LimitPx),
		AvgPrice:  parseFloat(o.AvgPx),
		Status:    mapStatus(o.Status),
		CreatedAt: time.UnixMilli(o.Timestamp),
	}
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "open", "resting", "ok":
		return common.StatusNew
	case "partial":
		return common.StatusPartial
	case "filled":
		return common.StatusFilled
	case "canceled":
		return common.StatusCanceled
	case "rejected":
		return common.StatusRejected
	case "expired":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
