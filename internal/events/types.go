package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventTradeOpened      Event = "trade.opened"
	EventTradeFailed      Event = "trade.failed"
	EventPositionClosed   Event = "position.closed"
	EventLimitReached     Event = "limit.reached"
	EventProtectionFailed Event = "protection.failed"
	EventPositionSynced   Event = "position.synced"
	EventOrderExpired     Event = "order.expired"
	EventComboClosed      Event = "combo.closed"
)
