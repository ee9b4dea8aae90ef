package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port   string
	DBPath string

	// Auth
	JWTSecret string

	// Sizing
	BasePositionUSD  float64
	VenueMultipliers map[string]float64 // venue -> multiplier over base
	VenueOverrides   map[string]float64 // venue -> absolute USD override

	// Risk settings file (per-account YAML) and refresh cadence
	RiskSettingsPath    string
	RiskSettingsRefresh time.Duration

	// Background sweeps
	ReconcileInterval   time.Duration
	ComboPollInterval   time.Duration
	ExpirySweepInterval time.Duration

	// Pending-order expiry
	ExpiryMode       string // "max-age" or "session-end"
	ExpiryMaxAge     time.Duration
	SessionTimezone  string
	SessionEnd       string // "15:55" local to SessionTimezone
	SessionEndBuffer time.Duration

	// Combo trading window, UTC "HH:MM-HH:MM"; empty disables forced exits
	TradingWindow string

	// Push feed
	EnableUserStream bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/tradehook.db"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		BasePositionUSD:     getEnvFloat("BASE_POSITION_USD", 750),
		VenueMultipliers:    parseVenueFloats(getEnv("VENUE_MULTIPLIERS", "")),
		VenueOverrides:      parseVenueFloats(getEnv("VENUE_SIZE_OVERRIDES", "")),
		RiskSettingsPath:    getEnv("RISK_SETTINGS_PATH", "./config/risk.yaml"),
		RiskSettingsRefresh: getEnvDuration("RISK_SETTINGS_REFRESH", 5*time.Minute),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		ComboPollInterval:   getEnvDuration("COMBO_POLL_INTERVAL", 15*time.Second),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		ExpiryMode:          getEnv("EXPIRY_MODE", "max-age"),
		ExpiryMaxAge:        getEnvDuration("EXPIRY_MAX_AGE", 15*time.Minute),
		SessionTimezone:     getEnv("SESSION_TIMEZONE", "America/New_York"),
		SessionEnd:          getEnv("SESSION_END", "16:00"),
		SessionEndBuffer:    getEnvDuration("SESSION_END_BUFFER", 5*time.Minute),
		TradingWindow:       getEnv("TRADING_WINDOW", ""),
		EnableUserStream:    getEnv("ENABLE_USER_STREAM", "false") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseVenueFloats parses "bitflex=2.0,deriva=1.5" into a map.
func parseVenueFloats(val string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(val, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if f, err := strconv.ParseFloat(kv[1], 64); err == nil {
			out[kv[0]] = f
		}
	}
	return out
}
