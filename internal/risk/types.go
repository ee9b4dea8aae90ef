package risk

// Settings is the per-account, per-venue risk configuration. It is a
// read-only snapshot at evaluation time; the file loader refreshes it on a
// timer.
type Settings struct {
	KillSwitch             bool    `yaml:"kill_switch"`
	AllowWeekend           bool    `yaml:"allow_weekend"`
	MaxSignalAgeSec        int     `yaml:"max_signal_age_sec"`
	MaxDailyLossUSD        float64 `yaml:"max_daily_loss_usd"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	MaxPositionUSD         float64 `yaml:"max_position_usd"`
	MaxWeeklyTrades        int     `yaml:"max_weekly_trades"`
	MaxWeeklyLossUSD       float64 `yaml:"max_weekly_loss_usd"`
}

// Snapshot carries the derived counters an evaluation reads. Loss and trade
// counters come from the persistent ledger (cached briefly); failure and
// open-position counts are in-memory.
type Snapshot struct {
	DailyLossUSD        float64
	WeeklyLossUSD       float64
	WeeklyTradeCount    int
	ConsecutiveFailures int
	OpenPositions       int
}

// LimitType names the limit a denial reports. First failing check wins.
type LimitType string

const (
	LimitKillSwitch          LimitType = "kill_switch"
	LimitWeekend             LimitType = "weekend"
	LimitSignalAge           LimitType = "signal_age"
	LimitDailyLoss           LimitType = "daily_loss"
	LimitConsecutiveFailures LimitType = "consecutive_failures"
	LimitConcurrentPositions LimitType = "concurrent_positions"
	LimitWeeklyTrades        LimitType = "weekly_trades"
	LimitWeeklyLoss          LimitType = "weekly_loss"
)

// Decision is the outcome of one evaluation. MaxPositionUSD is a sizing
// clamp, not a denial; zero means uncapped.
type Decision struct {
	Allowed        bool
	Limit          LimitType
	Reason         string
	Current        float64
	Threshold      float64
	MaxPositionUSD float64
}
