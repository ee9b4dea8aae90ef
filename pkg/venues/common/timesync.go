package common

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync tracks the offset between the local clock and a venue's server
// clock. Signed requests and nonces use the adjusted time so a skewed local
// clock does not get requests rejected.
type TimeSync struct {
	getServerTime func() (int64, error)
	offset        int64 // milliseconds, server - local
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

// NewTimeSync creates a time sync driven by getServerTime, which returns the
// venue's clock in unix milliseconds.
func NewTimeSync(getServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// Start performs an initial sync and then re-syncs on an interval until ctx
// is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(); err != nil {
		log.Printf("time sync: initial sync failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(); err != nil {
					log.Printf("time sync: %v", err)
				}
			}
		}
	}()
}

// Sync fetches the server clock and recomputes the offset, assuming the
// network latency is symmetric.
func (ts *TimeSync) Sync() error {
	before := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime()
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()

	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = serverTime - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the current time in unix milliseconds adjusted for the server
// offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// NowMicros returns the adjusted time in unix microseconds.
func (ts *TimeSync) NowMicros() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMicro() + ts.offset*1000
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
