package store

import "time"

// Signal is one of the four trade intents an LLM decision can carry.
type Signal string

const (
	SignalBuyToEnter  Signal = "buy_to_enter"
	SignalSellToEnter Signal = "sell_to_enter"
	SignalHold        Signal = "hold"
	SignalClose       Signal = "close"
)

// ExecutionStatus is the post-execution outcome of a Decision.
type ExecutionStatus string

const (
	ExecPending ExecutionStatus = "pending"
	ExecSuccess ExecutionStatus = "success"
	ExecFailed  ExecutionStatus = "failed"
	ExecSkipped ExecutionStatus = "skipped"
)

// PositionStatus distinguishes open from closed positions.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Decision is a single LLM-produced trading intent.
type Decision struct {
	ID                     int64
	Timestamp              time.Time
	Coin                   string
	Signal                 Signal
	QuantityUSD            float64
	Leverage               float64
	Confidence             float64
	ProfitTarget           *float64
	StopLoss               *float64
	InvalidationCondition  *string
	Justification          string
	RawResponse            string
	SystemPrompt           string
	UserPrompt             string
	ExecutionStatus        ExecutionStatus
	ExecutionError         *string
	ExecutionTimestamp     *time.Time
}

// DecisionWithPosition pairs a Decision with the Position it produced, or the
// most recent Position for the same coin for hold/close decisions.
type DecisionWithPosition struct {
	Decision
	Position *Position
}

// Position is an open or closed trade.
type Position struct {
	PositionID  string
	Coin        string
	Side        string // "long" | "short"
	EntryTime   time.Time
	EntryPrice  float64
	QuantityUSD float64
	Leverage    float64
	DecisionID  *int64
	ExitTime    *time.Time
	ExitPrice   *float64
	RealizedPnL *float64
	Status      PositionStatus
	ExitReason  *string
}

// AccountSnapshot is a timestamped summary of the paper account.
type AccountSnapshot struct {
	ID            int64
	Timestamp     time.Time
	BalanceUSD    float64
	EquityUSD     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	TotalPnL      float64
	SharpeRatio   *float64
	NumPositions  int
	ReturnPct     *float64
}

// StatusEvent is a log line for the operator timeline.
type StatusEvent struct {
	ID        int64
	Timestamp time.Time
	Status    string // running | paused | stopped | error
	Message   *string
	Error     *string
}

// OperatorInput is guidance or a query submitted by the operator.
type OperatorInput struct {
	ID          int64
	Timestamp   time.Time
	Message     string
	MessageType string // cycle | interrupt
	ImagePath   *string
	IsActive    bool
}

// StoreStatus summarizes row counts, DB file size, and latest timestamps.
type StoreStatus struct {
	Decisions        int64
	Positions        int64
	AccountSnapshots int64
	StatusEvents     int64
	OperatorInputs   int64
	LatestDecision   *time.Time
	LatestSnapshot   *time.Time
}
