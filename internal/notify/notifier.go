// Package notify turns execution events into per-account notifications.
// Delivery is fire and forget: a failed or unwanted notification never
// reaches back into execution.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/intent"
	"tradehook/pkg/db"
)

// Preference keys an account can enable in its notify_prefs column
// (comma-separated). An empty column means everything.
const (
	PrefTradeOpened    = "trade_opened"
	PrefTradeFailed    = "trade_failed"
	PrefPositionClosed = "position_closed"
	PrefLimitReached   = "limit_reached"
)

// Sender delivers one rendered notification. The default sender just logs;
// a webhook or chat sender satisfies the same interface.
type Sender interface {
	Send(accountID, subject, body string) error
}

type logSender struct{}

func (logSender) Send(accountID, subject, body string) error {
	log.Printf("[notify] %s: %s: %s", accountID, subject, body)
	return nil
}

// LogSender returns the default stdout sender.
func LogSender() Sender { return logSender{} }

// Notifier subscribes to the bus and dispatches. Preferences are read from
// the account row and cached per account for the life of the process; a
// preference change applies after restart.
type Notifier struct {
	database *db.Database
	bus      *events.Bus
	sender   Sender

	mu    sync.Mutex
	prefs map[string]string

	unsubs []func()
}

func New(database *db.Database, bus *events.Bus, sender Sender) *Notifier {
	if sender == nil {
		sender = logSender{}
	}
	return &Notifier{
		database: database,
		bus:      bus,
		sender:   sender,
		prefs:    make(map[string]string),
	}
}

// Start subscribes to the event topics and consumes until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.listen(ctx, events.EventTradeOpened, func(payload any) {
		if pos, ok := payload.(db.Position); ok {
			n.dispatch(pos.AccountID, PrefTradeOpened, "trade opened",
				fmt.Sprintf("%s %s %v %s @ %v", pos.Venue, pos.Side, pos.Qty, pos.Symbol, pos.EntryPrice))
		}
	})
	n.listen(ctx, events.EventTradeFailed, func(payload any) {
		if it, ok := payload.(*intent.TradeIntent); ok {
			n.dispatch(it.AccountID, PrefTradeFailed, "trade failed",
				fmt.Sprintf("%s %s %s did not execute", it.Venue, it.Action, it.Symbol))
		}
	})
	n.listen(ctx, events.EventPositionClosed, func(payload any) {
		if trade, ok := payload.(db.Trade); ok {
			outcome := "profit"
			if trade.PnL < 0 {
				outcome = "loss"
			}
			n.dispatch(trade.AccountID, PrefPositionClosed, "position closed with "+outcome,
				fmt.Sprintf("%s %s pnl %.2f (%s)", trade.Venue, trade.Symbol, trade.PnL, trade.CloseReason))
		}
	})
	n.listen(ctx, events.EventComboClosed, func(payload any) {
		if trade, ok := payload.(db.Trade); ok {
			n.dispatch(trade.AccountID, PrefPositionClosed, "combo closed",
				fmt.Sprintf("%s %s pnl %.2f (%s)", trade.Venue, trade.Symbol, trade.PnL, trade.CloseReason))
		}
	})
	n.listen(ctx, events.EventLimitReached, func(payload any) {
		if ev, ok := payload.(executor.LimitEvent); ok {
			n.dispatch(ev.AccountID, PrefLimitReached, "risk limit reached",
				fmt.Sprintf("%s: %s", ev.Venue, ev.Decision.Reason))
		}
	})
}

// Stop unsubscribes from the bus.
func (n *Notifier) Stop() {
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil
}

func (n *Notifier) listen(ctx context.Context, topic events.Event, handle func(any)) {
	ch, unsub := n.bus.Subscribe(topic, 32)
	n.unsubs = append(n.unsubs, unsub)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				handle(payload)
			}
		}
	}()
}

func (n *Notifier) dispatch(accountID, pref, subject, body string) {
	if accountID == "" || !n.wants(accountID, pref) {
		return
	}
	if err := n.sender.Send(accountID, subject, body); err != nil {
		log.Printf("[notify] send to %s failed: %v", accountID, err)
	}
}

// wants checks the account's preference gate. Unknown accounts get nothing.
func (n *Notifier) wants(accountID, pref string) bool {
	n.mu.Lock()
	prefs, ok := n.prefs[accountID]
	n.mu.Unlock()

	if !ok {
		account, err := n.database.GetAccount(context.Background(), accountID)
		if err != nil || account == nil {
			return false
		}
		prefs = account.NotifyPrefs
		n.mu.Lock()
		n.prefs[accountID] = prefs
		n.mu.Unlock()
	}

	if strings.TrimSpace(prefs) == "" {
		return true
	}
	for _, p := range strings.Split(prefs, ",") {
		if strings.TrimSpace(p) == pref {
			return true
		}
	}
	return false
}
