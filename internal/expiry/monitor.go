// Package expiry sweeps resting orders and cancels the ones that have
// outlived their usefulness, either by age or by session close.
package expiry

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/position"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

// Expiry modes.
const (
	ModeMaxAge     = "max-age"
	ModeSessionEnd = "session-end"
)

// Config selects the expiry policy.
type Config struct {
	Mode   string
	MaxAge time.Duration

	// Session-end mode: orders are cancelled within Buffer of SessionEnd
	// local time in Timezone.
	Timezone   string
	SessionEnd string // "15:55"
	Buffer     time.Duration

	Interval time.Duration
}

// Monitor cancels stale resting orders across every active account+venue
// pair. Cancel failures are logged and retried on the next sweep; a venue
// that is down never stops the sweep for the others.
type Monitor struct {
	database *db.Database
	venues   position.VenueResolver
	bus      *events.Bus
	cfg      Config

	location *time.Location
	endHour  int
	endMin   int
}

func NewMonitor(database *db.Database, venues position.VenueResolver, bus *events.Bus, cfg Config) (*Monitor, error) {
	m := &Monitor{database: database, venues: venues, bus: bus, cfg: cfg}
	if cfg.Mode == ModeSessionEnd {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("session timezone %q: %w", cfg.Timezone, err)
		}
		end, err := time.Parse("15:04", cfg.SessionEnd)
		if err != nil {
			return nil, fmt.Errorf("session end %q: %w", cfg.SessionEnd, err)
		}
		m.location = loc
		m.endHour, m.endMin = end.Hour(), end.Minute()
	} else if cfg.Mode != ModeMaxAge {
		return nil, fmt.Errorf("unknown expiry mode %q", cfg.Mode)
	}
	return m, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	log.Printf("[expiry] started, mode %s interval %s", m.cfg.Mode, m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[expiry] stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass.
func (m *Monitor) Sweep(ctx context.Context) {
	creds, err := m.database.ListActiveCredentials(ctx)
	if err != nil {
		log.Printf("[expiry] list credentials: %v", err)
		return
	}
	now := time.Now()
	for _, cred := range creds {
		if err := m.sweepPair(ctx, cred.AccountID, cred.VenueType, now); err != nil {
			log.Printf("[expiry] %s/%s: %v", cred.AccountID, cred.VenueType, err)
		}
	}
}

func (m *Monitor) sweepPair(ctx context.Context, accountID, venueType string, now time.Time) error {
	venue, err := m.venues.Resolve(ctx, accountID, venueType)
	if err != nil {
		return err
	}
	orders, err := venue.OpenOrders(ctx, "")
	if err != nil {
		return err
	}
	for _, order := range orders {
		if !m.Expired(order, now) {
			continue
		}
		if err := venue.CancelOrder(ctx, order.Symbol, order.ID); err != nil {
			log.Printf("[expiry] cancel %s on %s/%s failed, will retry: %v", order.ID, accountID, venueType, err)
			continue
		}
		log.Printf("[expiry] cancelled %s %s %s, age %s", venueType, order.Symbol, order.ID, now.Sub(order.CreatedAt).Round(time.Second))
		m.bus.Publish(events.EventOrderExpired, order)
	}
	return nil
}

// Expired reports whether an order should be cancelled at time now under
// the configured policy.
func (m *Monitor) Expired(order common.OpenOrder, now time.Time) bool {
	switch m.cfg.Mode {
	case ModeSessionEnd:
		// No ceiling at the session end itself: a sweep that was down
		// during the buffer still catches the order later the same day.
		local := now.In(m.location)
		end := time.Date(local.Year(), local.Month(), local.Day(), m.endHour, m.endMin, 0, 0, m.location)
		return local.After(end.Add(-m.cfg.Buffer))
	default:
		if order.CreatedAt.IsZero() {
			return false
		}
		return now.Sub(order.CreatedAt) > m.cfg.MaxAge
	}
}
