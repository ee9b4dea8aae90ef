package risk

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// settingsFile is the on-disk shape. A venue entry replaces the defaults
// wholesale rather than merging field by field, so an account file states
// its limits explicitly.
type settingsFile struct {
	Defaults Settings                       `yaml:"defaults"`
	Accounts map[string]map[string]Settings `yaml:"accounts"`
}

// SettingsStore serves risk settings from a YAML file and hot-reloads it on
// a timer. Missing file or account falls back to conservative defaults.
type SettingsStore struct {
	path string

	mu   sync.RWMutex
	file settingsFile
}

// DefaultSettings applies when no file or entry exists.
func DefaultSettings() Settings {
	return Settings{
		AllowWeekend:           false,
		MaxSignalAgeSec:        120,
		MaxDailyLossUSD:        1000,
		MaxConsecutiveFailures: 3,
		MaxConcurrentPositions: 5,
		MaxWeeklyTrades:        50,
		MaxWeeklyLossUSD:       3000,
	}
}

func NewSettingsStore(path string) *SettingsStore {
	s := &SettingsStore{path: path}
	s.file.Defaults = DefaultSettings()
	if path != "" {
		if err := s.Reload(); err != nil {
			log.Printf("[risk] settings load failed, using defaults: %v", err)
		}
	}
	return s
}

// Reload re-reads the settings file and swaps it in atomically.
func (s *SettingsStore) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read risk settings: %w", err)
	}
	parsed := settingsFile{Defaults: DefaultSettings()}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse risk settings: %w", err)
	}
	s.mu.Lock()
	s.file = parsed
	s.mu.Unlock()
	return nil
}

// StartRefresh reloads the file every interval until ctx is cancelled. A
// failed reload keeps the last good settings.
func (s *SettingsStore) StartRefresh(ctx context.Context, interval time.Duration) {
	if s.path == "" || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(); err != nil {
					log.Printf("[risk] settings refresh failed, keeping previous: %v", err)
				}
			}
		}
	}()
}

// For returns the settings for one account and venue. Lookup order is
// account+venue entry, account "default" entry, then file defaults.
func (s *SettingsStore) For(accountID, venue string) Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if venues, ok := s.file.Accounts[accountID]; ok {
		if entry, ok := venues[venue]; ok {
			return entry
		}
		if entry, ok := venues["default"]; ok {
			return entry
		}
	}
	return s.file.Defaults
}

// SetKillSwitch flips the kill switch for one account+venue in memory. The
// change does not survive a reload of the settings file.
func (s *SettingsStore) SetKillSwitch(accountID, venue string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Accounts == nil {
		s.file.Accounts = make(map[string]map[string]Settings)
	}
	venues, ok := s.file.Accounts[accountID]
	if !ok {
		venues = make(map[string]Settings)
		s.file.Accounts[accountID] = venues
	}
	entry, ok := venues[venue]
	if !ok {
		entry = s.file.Defaults
	}
	entry.KillSwitch = on
	venues[venue] = entry
}
