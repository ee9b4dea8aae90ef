package position

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tradehook/pkg/db"
)

func key(accountID, venue, symbol string) string {
	return accountID + "|" + venue + "|" + symbol
}

// Store is the in-memory view of open positions with write-through to the
// database. The map is authoritative between reconciliation sweeps; the
// database row survives restarts.
type Store struct {
	database *db.Database

	mu        sync.RWMutex
	positions map[string]db.Position
}

func NewStore(database *db.Database) *Store {
	return &Store{
		database:  database,
		positions: make(map[string]db.Position),
	}
}

// Load warms the map from the database at startup.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.database.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]db.Position, len(rows))
	for _, p := range rows {
		s.positions[key(p.AccountID, p.Venue, p.Symbol)] = p
	}
	log.Printf("[position] loaded %d open positions", len(rows))
	return nil
}

// Set records or replaces an open position in memory and in the database.
func (s *Store) Set(ctx context.Context, p db.Position) error {
	if p.SyncedAt.IsZero() {
		p.SyncedAt = time.Now().UTC()
	}
	if err := s.database.UpsertPosition(ctx, p); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	s.mu.Lock()
	s.positions[key(p.AccountID, p.Venue, p.Symbol)] = p
	s.mu.Unlock()
	return nil
}

// Remove drops a position after it is closed on the venue.
func (s *Store) Remove(ctx context.Context, accountID, venue, symbol string) error {
	if err := s.database.DeletePosition(ctx, accountID, venue, symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	s.mu.Lock()
	delete(s.positions, key(accountID, venue, symbol))
	s.mu.Unlock()
	return nil
}

// Get returns the tracked position, or false when the account is flat on
// that symbol.
func (s *Store) Get(accountID, venue, symbol string) (db.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key(accountID, venue, symbol)]
	return p, ok
}

// CountOpen reports how many positions the account holds on one venue.
func (s *Store) CountOpen(accountID, venue string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.positions {
		if p.AccountID == accountID && p.Venue == venue {
			n++
		}
	}
	return n
}

// List returns a snapshot of every tracked position.
func (s *Store) List() []db.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]db.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// ListAccount returns a snapshot of one account's positions.
func (s *Store) ListAccount(accountID string) []db.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}

// UpdateMark refreshes mark price and unrealized PnL on a tracked position
// without touching entry data. No-op when the position is gone.
func (s *Store) UpdateMark(ctx context.Context, accountID, venue, symbol string, mark, upnl float64) error {
	s.mu.Lock()
	p, ok := s.positions[key(accountID, venue, symbol)]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	p.MarkPrice = mark
	p.UnrealizedPnL = upnl
	p.SyncedAt = time.Now().UTC()
	s.positions[key(accountID, venue, symbol)] = p
	s.mu.Unlock()
	return s.database.UpsertPosition(ctx, p)
}
