package events

// Event enumerates the topics published during a cycle.
type Event string

const (
	EventDecisionParsed   Event = "decision.parsed"
	EventDecisionExecuted Event = "decision.executed"
	EventPositionOpened   Event = "position.opened"
	EventPositionClosed   Event = "position.closed"
	EventRiskRejected     Event = "risk.rejected"
	EventStatusAppended   Event = "status.appended"
)
