package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradehook/pkg/crypto"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

var (
	ErrNoCredential = errors.New("no active credential for venue")
	ErrUnhealthy    = errors.New("venue adapter is unhealthy")
	ErrPoolFull     = errors.New("adapter pool is full")
)

// PoolConfig bounds the adapter pool.
type PoolConfig struct {
	MaxSize          int
	IdleTimeout      time.Duration
	FailureThreshold int
	CircuitTimeout   time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   5 * time.Minute,
	}
}

type cachedVenue struct {
	venue     common.Venue
	accountID string
	venueType string
	lastUsed  time.Time
	healthyAt time.Time
	failures  int
}

// Manager pools venue adapters keyed by account+venue. Secrets are decrypted
// once at construction; the cached adapter holds them, never the manager.
// Idle adapters are evicted on a timer; repeated failures open a circuit
// that rejects the pair until the timeout passes.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]*cachedVenue
	lruOrder []string

	config   PoolConfig
	vault    *crypto.Vault
	database *db.Database
	factory  Factory

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(database *db.Database, vault *crypto.Vault, factory Factory, cfg PoolConfig) *Manager {
	return &Manager{
		adapters: make(map[string]*cachedVenue),
		config:   cfg,
		vault:    vault,
		database: database,
		factory:  factory,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the idle-eviction loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

// Stop shuts down the manager and closes every pooled adapter.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cached := range m.adapters {
		closeVenue(cached.venue)
		delete(m.adapters, key)
	}
	m.lruOrder = nil
}

func poolKey(accountID, venueType string) string {
	return accountID + "|" + venueType
}

// Resolve returns a ready adapter for the account's active credential on the
// venue, creating and caching one on first use.
func (m *Manager) Resolve(ctx context.Context, accountID, venueType string) (common.Venue, error) {
	key := poolKey(accountID, venueType)

	m.mu.RLock()
	if cached, ok := m.adapters[key]; ok {
		if cached.failures >= m.config.FailureThreshold &&
			time.Since(cached.healthyAt) < m.config.CircuitTimeout {
			m.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s/%s", ErrUnhealthy, accountID, venueType)
		}
		m.mu.RUnlock()
		m.touch(key)
		return cached.venue, nil
	}
	m.mu.RUnlock()

	return m.create(ctx, accountID, venueType)
}

func (m *Manager) create(ctx context.Context, accountID, venueType string) (common.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := poolKey(accountID, venueType)
	if cached, ok := m.adapters[key]; ok {
		m.touchLocked(key)
		return cached.venue, nil
	}

	if len(m.adapters) >= m.config.MaxSize {
		if !m.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	cred, err := m.database.GetCredential(ctx, accountID, venueType)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoCredential, accountID, venueType)
	}

	secret, err := m.vault.Open(cred.SecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}

	v, err := m.factory(*cred, secret)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", venueType, err)
	}

	now := time.Now()
	m.adapters[key] = &cachedVenue{
		venue:     v,
		accountID: accountID,
		venueType: venueType,
		lastUsed:  now,
		healthyAt: now,
	}
	m.lruOrder = append(m.lruOrder, key)
	return v, nil
}

// Drop removes one account+venue adapter, e.g. after a credential change.
func (m *Manager) Drop(accountID, venueType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := poolKey(accountID, venueType)
	if cached, ok := m.adapters[key]; ok {
		closeVenue(cached.venue)
		delete(m.adapters, key)
		m.removeLRULocked(key)
	}
}

// RecordFailure bumps the failure count toward the circuit threshold.
func (m *Manager) RecordFailure(accountID, venueType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.adapters[poolKey(accountID, venueType)]; ok {
		cached.failures++
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (m *Manager) RecordSuccess(accountID, venueType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.adapters[poolKey(accountID, venueType)]; ok {
		cached.failures = 0
		cached.healthyAt = time.Now()
	}
}

func (m *Manager) touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(key)
}

func (m *Manager) touchLocked(key string) {
	if cached, ok := m.adapters[key]; ok {
		cached.lastUsed = time.Now()
	}
	for i, k := range m.lruOrder {
		if k == key {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, key)
			break
		}
	}
}

func (m *Manager) removeLRULocked(key string) {
	for i, k := range m.lruOrder {
		if k == key {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	oldest := m.lruOrder[0]
	if cached, ok := m.adapters[oldest]; ok {
		closeVenue(cached.venue)
		delete(m.adapters, oldest)
	}
	m.lruOrder = m.lruOrder[1:]
	return true
}

func (m *Manager) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, cached := range m.adapters {
		if now.Sub(cached.lastUsed) > m.config.IdleTimeout {
			closeVenue(cached.venue)
			delete(m.adapters, key)
			m.removeLRULocked(key)
		}
	}
}

func closeVenue(v common.Venue) {
	if closer, ok := v.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
