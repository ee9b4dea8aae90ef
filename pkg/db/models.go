package db

import "time"

// Account is an owning account for intents, positions and credentials.
type Account struct {
	ID            string
	Name          string
	WebhookSecret string
	PasswordHash  string
	NotifyPrefs   string
	CreatedAt     time.Time
}

// Credential is per-account, per-venue secret material. The secret is stored
// encrypted and only decrypted at adapter construction time; the plaintext is
// never persisted or retained beyond that scope.
type Credential struct {
	ID              string
	AccountID       string
	VenueType       string
	APIKey          string
	SecretEncrypted string
	Sandbox         bool
	IsActive        bool
	CreatedAt       time.Time
}

// Trade is a closed-trade ledger row. Rows are immutable once written; risk
// counters are derived from them.
type Trade struct {
	ID          string
	AccountID   string
	Venue       string
	Symbol      string
	Side        string
	Qty         float64
	EntryPrice  float64
	ExitPrice   float64
	PnL         float64
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Position is the persisted mirror of an open position, one row per
// (account, venue, symbol).
type Position struct {
	AccountID     string
	Venue         string
	Symbol        string
	Side          string
	Qty           float64
	EntryPrice    float64
	Leverage      float64
	StopOrderID   string
	TPOrderID     string
	MarkPrice     float64
	UnrealizedPnL float64
	SyncedAt      time.Time
}

// OptionTrade is one combo trade: an entry leg plus TP/SL exit legs, driven
// to a terminal status by the combo monitor.
type OptionTrade struct {
	ID           string
	AccountID    string
	Venue        string
	Underlying   string
	OptionSymbol string
	Side         string
	Qty          float64
	Multiplier   float64
	EntryOrderID string
	TPOrderID    string
	SLOrderID    string
	CloseOrderID string
	EntryPrice   float64
	ExitPrice    float64
	PnL          float64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Option trade statuses.
const (
	OptionStatusPendingEntry = "pending_entry"
	OptionStatusOpen         = "open"
	OptionStatusClosedTP     = "closed_tp"
	OptionStatusClosedSL     = "closed_sl"
	OptionStatusClosed       = "closed" // forced exit outside trading window
	OptionStatusCancelled    = "cancelled"
)

// Order is a submission audit row.
type Order struct {
	ID           string
	AccountID    string
	Venue        string
	Symbol       string
	Side         string
	Type         string
	Qty          float64
	Price        float64
	Status       string
	VenueOrderID string
	CreatedAt    time.Time
}
