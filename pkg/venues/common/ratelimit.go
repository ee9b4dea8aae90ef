package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// WeightTracker tracks venue-reported API weight usage. Venues that return
// their used-weight in a response header feed it in here so callers can
// back off before the venue bans the key.
type WeightTracker struct {
	used      int
	limit     int
	lastReset time.Time
	window    time.Duration
	mu        sync.RWMutex
}

// NewWeightTracker creates a tracker for a limit/window budget.
func NewWeightTracker(limit int, window time.Duration) *WeightTracker {
	return &WeightTracker{
		limit:     limit,
		window:    window,
		lastReset: time.Now(),
	}
}

// UpdateFromHeader records the used weight reported by a response header.
func (w *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	used, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReset) >= w.window {
		w.used = 0
		w.lastReset = time.Now()
	}
	w.used = used

	pct := float64(w.used) / float64(w.limit) * 100
	if pct >= 90 {
		log.Printf("weight tracker: %d/%d (%.1f%%) near venue limit", w.used, w.limit, pct)
	}
}

// Usage returns the current used weight, limit and percentage.
func (w *WeightTracker) Usage() (used, limit int, pct float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if time.Since(w.lastReset) >= w.window {
		return 0, w.limit, 0
	}
	return w.used, w.limit, float64(w.used) / float64(w.limit) * 100
}

// ShouldDelay reports whether callers should hold off non-urgent requests.
func (w *WeightTracker) ShouldDelay() bool {
	_, _, pct := w.Usage()
	return pct >= 90
}
