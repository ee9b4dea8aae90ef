// Package stream consumes venue user-data push feeds and applies position
// changes straight to the store, a seconds-scale complement to the polling
// reconciler.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradehook/internal/events"
	"tradehook/internal/position"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// streamClient is the slice of the bitflex client the stream needs.
type streamClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	StreamHost() string
}

// UserStream holds one account's websocket session against the bitflex
// user-data stream. It logs errors and keeps running until ctx is done or
// Stop is called; a dropped connection is redialed with a fresh listen key.
type UserStream struct {
	client    streamClient
	store     *position.Store
	database  *db.Database
	bus       *events.Bus
	accountID string
	stopCh    chan struct{}
}

func NewUserStream(client streamClient, store *position.Store, database *db.Database, bus *events.Bus, accountID string) *UserStream {
	return &UserStream{
		client:    client,
		store:     store,
		database:  database,
		bus:       bus,
		accountID: accountID,
		stopCh:    make(chan struct{}),
	}
}

// Start connects and begins consuming in background goroutines.
func (s *UserStream) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *UserStream) Stop() {
	close(s.stopCh)
}

func (s *UserStream) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		if err := s.connectAndRead(ctx); err != nil {
			log.Printf("[stream] %s: session ended: %v", s.accountID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *UserStream) connectAndRead(ctx context.Context) error {
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}
	u := url.URL{Scheme: "wss", Host: s.client.StreamHost(), Path: "/ws/" + listenKey}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[stream] %s: connected", s.accountID)

	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepaliveDone:
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(ctx, listenKey); err != nil {
					log.Printf("[stream] %s: keepalive: %v", s.accountID, err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(ctx, msg)
	}
}

// accountUpdate is the position slice of the venue's ACCOUNT_UPDATE event.
type accountUpdate struct {
	EventType string `json:"e"`
	Data      struct {
		Positions []struct {
			Symbol        string `json:"s"`
			PositionAmt   string `json:"pa"`
			EntryPrice    string `json:"ep"`
			UnrealizedPnL string `json:"up"`
		} `json:"P"`
	} `json:"a"`
}

func (s *UserStream) handleMessage(ctx context.Context, msg []byte) {
	// The event field is not always a plain string; probe it first.
	var probe struct {
		EventType json.RawMessage `json:"e"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil || probe.EventType == nil {
		return
	}
	var eventType string
	if err := json.Unmarshal(probe.EventType, &eventType); err != nil {
		return
	}
	if eventType != "ACCOUNT_UPDATE" {
		return
	}

	var update accountUpdate
	if err := json.Unmarshal(msg, &update); err != nil {
		log.Printf("[stream] %s: bad account update: %v", s.accountID, err)
		return
	}
	for _, p := range update.Data.Positions {
		s.applyPosition(ctx, p.Symbol, parseFloat(p.PositionAmt), parseFloat(p.EntryPrice), parseFloat(p.UnrealizedPnL))
	}
}

// applyPosition mirrors one pushed position into the store. A zero quantity
// means the venue flattened it (stop hit, manual close); that is settled
// here with a ledger row at the last known mark, the same way the
// reconciler settles a venue-side close it discovers by polling.
func (s *UserStream) applyPosition(ctx context.Context, symbol string, qty, entry, upnl float64) {
	if qty == 0 {
		tracked, ok := s.store.Get(s.accountID, "bitflex", symbol)
		if !ok {
			return
		}
		position.CloseExternal(ctx, s.store, s.database, s.bus, tracked)
		return
	}
	side := common.SideBuy
	if qty < 0 {
		side = common.SideSell
		qty = -qty
	}
	pos := db.Position{
		AccountID:     s.accountID,
		Venue:         "bitflex",
		Symbol:        symbol,
		Side:          string(side),
		Qty:           qty,
		EntryPrice:    entry,
		UnrealizedPnL: upnl,
	}
	if existing, ok := s.store.Get(s.accountID, "bitflex", symbol); ok {
		pos.Leverage = existing.Leverage
		pos.StopOrderID = existing.StopOrderID
		pos.TPOrderID = existing.TPOrderID
		pos.MarkPrice = existing.MarkPrice
	}
	if err := s.store.Set(ctx, pos); err != nil {
		log.Printf("[stream] %s: set %s: %v", s.accountID, symbol, err)
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
