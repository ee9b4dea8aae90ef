// Package bitflex implements the Venue contract for the Bitflex USDT-margined
// perpetuals API. Authentication is an HMAC-SHA256 signature over the
// alphabetically sorted, URL-encoded query string, attached as a `signature`
// parameter alongside a synced timestamp.
package bitflex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradehook/pkg/venues/common"
)

// Config holds Bitflex credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Sandbox    bool
	RecvWindow int64 // ms
}

// Client talks to the Bitflex perpetuals REST API.
type Client struct {
	cfg       Config
	baseURL   string
	transport *common.Transport
	timeSync  *common.TimeSync
	weights   *common.WeightTracker
}

// New creates a Bitflex client.
func New(cfg Config) *Client {
	base := "https://api.bitflex.com"
	if cfg.Sandbox {
		base = "https://api-testnet.bitflex.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:       cfg,
		baseURL:   base,
		transport: common.NewTransport("bitflex", 10, 20),
		weights:   common.NewWeightTracker(2400, time.Minute),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	return c
}

func (c *Client) Name() string { return "bitflex" }

// nativeSymbol maps the canonical "BTC/USDT" form to Bitflex's "BTCUSDT".
func nativeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// QtyPrecision returns quantity decimal places; Bitflex perps use 3 except
// for BTC pairs which allow 4.
func (c *Client) QtyPrecision(symbol string) int {
	if strings.HasPrefix(nativeSymbol(symbol), "BTC") {
		return 4
	}
	return 3
}

func (c *Client) serverTime() (int64, error) {
	resp, err := http.Get(c.baseURL + "/api/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

// StartTimeSync begins periodic clock sync against the venue.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// signedCall sends a signed request. The signature is recomputed on every
// retry attempt so the timestamp stays inside the recv window.
func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, common.NewError("bitflex", common.KindAuth, "API key/secret required")
	}
	body, res, err := c.transport.Do(ctx, func() (*http.Request, error) {
		p := url.Values{}
		for k, vs := range params {
			for _, v := range vs {
				p.Add(k, v)
			}
		}
		p.Set("timestamp", strconv.FormatInt(c.now(), 10))
		p.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		encoded := p.Encode() // url.Values encodes keys in sorted order
		encoded += "&signature=" + sign(encoded, c.cfg.APISecret)

		var req *http.Request
		var err error
		switch method {
		case http.MethodGet, http.MethodDelete:
			req, err = http.NewRequest(method, c.baseURL+path+"?"+encoded, nil)
		default:
			req, err = http.NewRequest(method, c.baseURL+path, strings.NewReader(encoded))
			if err == nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BFX-APIKEY", c.cfg.APIKey)
		return req, nil
	})
	if res != nil {
		c.weights.UpdateFromHeader(res.Header.Get("X-BFX-USED-WEIGHT-1M"))
	}
	return body, err
}

// Balance returns the USDT wallet balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	body, err := c.signedCall(ctx, http.MethodGet, "/api/v2/balance", url.Values{})
	if err != nil {
		return 0, err
	}
	var out []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	for _, b := range out {
		if b.Asset == "USDT" {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, nil
}

// AvailableMargin returns the free margin available for new positions.
func (c *Client) AvailableMargin(ctx context.Context) (float64, error) {
	body, err := c.signedCall(ctx, http.MethodGet, "/api/v2/account", url.Values{})
	if err != nil {
		return 0, err
	}
	var out struct {
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	return parseFloat(out.AvailableBalance), nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]common.PositionInfo, error) {
	return c.positions(ctx, "")
}

// Position returns the position for symbol, or nil when flat.
func (c *Client) Position(ctx context.Context, symbol string) (*common.PositionInfo, error) {
	pos, err := c.positions(ctx, nativeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	for i := range pos {
		if pos[i].Qty != 0 {
			return &pos[i], nil
		}
	}
	return nil, nil
}

func (c *Client) positions(ctx context.Context, native string) ([]common.PositionInfo, error) {
	params := url.Values{}
	if native != "" {
		params.Set("symbol", native)
	}
	body, err := c.signedCall(ctx, http.MethodGet, "/api/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var raw []positionRisk
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.PositionInfo, 0, len(raw))
	for _, p := range raw {
		qty := parseFloat(p.PositionAmt)
		if qty == 0 {
			continue
		}
		side := common.SideBuy
		if qty < 0 {
			side = common.SideSell
			qty = -qty
		}
		out = append(out, common.PositionInfo{
			Symbol:        p.Symbol,
			Side:          side,
			Qty:           qty,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
			Leverage:      parseFloat(p.Leverage),
		})
	}
	return out, nil
}

// Ticker returns the last traded price.
func (c *Client) Ticker(ctx context.Context, symbol string) (common.Ticker, error) {
	native := nativeSymbol(symbol)
	body, _, err := c.transport.Do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.baseURL+"/api/v1/ticker/price?symbol="+native, nil)
	})
	if err != nil {
		return common.Ticker{}, err
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Time   int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return common.Ticker{
		Symbol: symbol,
		Last:   parseFloat(out.Price),
		Time:   time.UnixMilli(out.Time),
	}, nil
}

// PlaceMarketOrder places a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, orderParams{
		symbol: symbol, side: side, orderType: "MARKET", qty: qty,
	})
}

// PlaceLimitOrder places a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, orderParams{
		symbol: symbol, side: side, orderType: "LIMIT", qty: qty, price: price, tif: "GTC",
	})
}

// PlaceStopLoss places a stop-market order triggered at stopPrice.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, orderParams{
		symbol: symbol, side: side, orderType: "STOP_MARKET", qty: qty,
		stopPrice: stopPrice, reduceOnly: true,
	})
}

// PlaceTakeProfit places a take-profit-market order triggered at targetPrice.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, targetPrice float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, orderParams{
		symbol: symbol, side: side, orderType: "TAKE_PROFIT_MARKET", qty: qty,
		stopPrice: targetPrice, reduceOnly: true,
	})
}

// ClosePosition places a reduce-only market order on the opposite side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderRef, error) {
	return c.placeOrder(ctx, orderParams{
		symbol: symbol, side: side.Opposite(), orderType: "MARKET", qty: qty,
		reduceOnly: true,
	})
}

type orderParams struct {
	symbol     string
	side       common.Side
	orderType  string
	qty        float64
	price      float64
	stopPrice  float64
	tif        string
	reduceOnly bool
}

func (c *Client) placeOrder(ctx context.Context, p orderParams) (common.OrderRef, error) {
	params := url.Values{}
	params.Set("symbol", nativeSymbol(p.symbol))
	params.Set("side", string(p.side))
	params.Set("type", p.orderType)
	params.Set("quantity", formatFloat(p.qty))
	if p.price > 0 {
		params.Set("price", formatFloat(p.price))
	}
	if p.stopPrice > 0 {
		params.Set("stopPrice", formatFloat(p.stopPrice))
	}
	if p.tif != "" {
		params.Set("timeInForce", p.tif)
	}
	if p.reduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.signedCall(ctx, http.MethodPost, "/api/v1/order", params)
	if err != nil {
		return common.OrderRef{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderRef{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderRef{
		ID:     strconv.FormatInt(resp.OrderID, 10),
		Status: mapStatus(resp.Status),
	}, nil
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", nativeSymbol(symbol))
	params.Set("orderId", orderID)
	_, err := c.signedCall(ctx, http.MethodDelete, "/api/v1/order", params)
	return err
}

// GetOrder queries a single order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	params := url.Values{}
	params.Set("symbol", nativeSymbol(symbol))
	params.Set("orderId", orderID)
	body, err := c.signedCall(ctx, http.MethodGet, "/api/v1/order", params)
	if err != nil {
		return common.OrderDetail{}, err
	}
	var o orderDetailResp
	if err := json.Unmarshal(body, &o); err != nil {
		return common.OrderDetail{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderDetail{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      common.Side(o.Side),
		Type:      mapType(o.Type),
		Qty:       parseFloat(o.OrigQty),
		FilledQty: parseFloat(o.ExecutedQty),
		Price:     parseFloat(o.Price),
		AvgPrice:  parseFloat(o.AvgPrice),
		Status:    mapStatus(o.Status),
		CreatedAt: time.UnixMilli(o.Time),
	}, nil
}

// OpenOrders lists resting orders; symbol may be empty for all symbols.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", nativeSymbol(symbol))
	}
	body, err := c.signedCall(ctx, http.MethodGet, "/api/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []orderDetailResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]common.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, common.OpenOrder{
			ID:        strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      common.Side(o.Side),
			Type:      mapType(o.Type),
			Qty:       parseFloat(o.OrigQty),
			Price:     parseFloat(o.Price),
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

type orderResp struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

type orderDetailResp struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	Time        int64  `json:"time"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}
