package risk

import (
	"context"
	"fmt"
	"time"

	"tradehook/internal/intent"
)

// OpenCounter reports how many positions an account currently holds on a
// venue. Implemented by the position store.
type OpenCounter interface {
	CountOpen(accountID, venue string) int
}

// Engine gates entry intents. Close intents always pass so an account can
// reduce exposure even while locked out.
type Engine struct {
	settings  *SettingsStore
	counters  *Counters
	positions OpenCounter
}

func NewEngine(settings *SettingsStore, counters *Counters, positions OpenCounter) *Engine {
	return &Engine{settings: settings, counters: counters, positions: positions}
}

// Check evaluates an intent against the account's current settings and
// counters and returns the decision. It does not mutate any counter.
func (e *Engine) Check(ctx context.Context, it *intent.TradeIntent) (Decision, error) {
	if !it.IsEntry() {
		return Decision{Allowed: true}, nil
	}
	s := e.settings.For(it.AccountID, it.Venue)
	snap, err := e.counters.Snapshot(ctx, it.AccountID, it.Venue)
	if err != nil {
		return Decision{}, fmt.Errorf("risk counters: %w", err)
	}
	snap.OpenPositions = e.positions.CountOpen(it.AccountID, it.Venue)
	return Evaluate(it, s, snap, time.Now().UTC()), nil
}

// Evaluate runs the ordered checks and stops at the first failure. A zero
// threshold disables the corresponding check. The weekend and signal-age
// checks read clock state passed in by the caller so the function stays
// deterministic under test.
func Evaluate(it *intent.TradeIntent, s Settings, snap Snapshot, now time.Time) Decision {
	if s.KillSwitch {
		return deny(LimitKillSwitch, "trading disabled by kill switch", 0, 0)
	}
	if !s.AllowWeekend {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return deny(LimitWeekend, "weekend trading disabled", float64(wd), 0)
		}
	}
	if s.MaxSignalAgeSec > 0 && !it.SignalTime.IsZero() {
		age := now.Sub(it.SignalTime)
		if age > time.Duration(s.MaxSignalAgeSec)*time.Second {
			return deny(LimitSignalAge,
				fmt.Sprintf("signal is %.0fs old, limit %ds", age.Seconds(), s.MaxSignalAgeSec),
				age.Seconds(), float64(s.MaxSignalAgeSec))
		}
	}
	if s.MaxDailyLossUSD > 0 && snap.DailyLossUSD >= s.MaxDailyLossUSD {
		return deny(LimitDailyLoss,
			fmt.Sprintf("daily loss %.2f reached limit %.2f", snap.DailyLossUSD, s.MaxDailyLossUSD),
			snap.DailyLossUSD, s.MaxDailyLossUSD)
	}
	if s.MaxConsecutiveFailures > 0 && snap.ConsecutiveFailures >= s.MaxConsecutiveFailures {
		return deny(LimitConsecutiveFailures,
			fmt.Sprintf("%d consecutive failed orders, limit %d", snap.ConsecutiveFailures, s.MaxConsecutiveFailures),
			float64(snap.ConsecutiveFailures), float64(s.MaxConsecutiveFailures))
	}
	if s.MaxConcurrentPositions > 0 && snap.OpenPositions >= s.MaxConcurrentPositions {
		return deny(LimitConcurrentPositions,
			fmt.Sprintf("%d open positions, limit %d", snap.OpenPositions, s.MaxConcurrentPositions),
			float64(snap.OpenPositions), float64(s.MaxConcurrentPositions))
	}
	if s.MaxWeeklyTrades > 0 && snap.WeeklyTradeCount >= s.MaxWeeklyTrades {
		return deny(LimitWeeklyTrades,
			fmt.Sprintf("%d trades this week, limit %d", snap.WeeklyTradeCount, s.MaxWeeklyTrades),
			float64(snap.WeeklyTradeCount), float64(s.MaxWeeklyTrades))
	}
	if s.MaxWeeklyLossUSD > 0 && snap.WeeklyLossUSD >= s.MaxWeeklyLossUSD {
		return deny(LimitWeeklyLoss,
			fmt.Sprintf("weekly loss %.2f reached limit %.2f", snap.WeeklyLossUSD, s.MaxWeeklyLossUSD),
			snap.WeeklyLossUSD, s.MaxWeeklyLossUSD)
	}
	return Decision{Allowed: true, MaxPositionUSD: s.MaxPositionUSD}
}

func deny(limit LimitType, reason string, current, threshold float64) Decision {
	return Decision{Limit: limit, Reason: reason, Current: current, Threshold: threshold}
}
