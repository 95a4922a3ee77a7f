// Package exchange provides a uniform adapter over paper and live trading
// backends. CycleEngine talks only to the Adapter interface; it never knows
// which backend it is driving.
package exchange

import (
	"context"
	"time"
)

// PositionState is one open position as reported by account_state.
type PositionState struct {
	Coin          string
	Side          string // "long" | "short"
	EntryPrice    float64
	QuantityUSD   float64
	Leverage      float64
	UnrealizedPnL float64
	EntryTime     *time.Time
}

// AccountState is the adapter's view of balance, equity, and open positions.
type AccountState struct {
	Balance       float64
	Equity        float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Positions     []PositionState
}

// OpenStatus is the outcome of an open() call.
type OpenStatus string

const (
	OpenFilled   OpenStatus = "filled"
	OpenRejected OpenStatus = "rejected"
)

// OpenResult is the outcome of opening a position.
type OpenResult struct {
	Status    OpenStatus
	FillPrice float64
	FillSize  float64
	Error     string
}

// CloseStatus is the outcome of a close() call.
type CloseStatus string

const (
	CloseFilled   CloseStatus = "filled"
	CloseRejected CloseStatus = "rejected"
)

// CloseResult is the outcome of closing a position.
type CloseResult struct {
	Status CloseStatus
	Error  string
}

// Adapter is the sole translator between canonical symbol strings
// (e.g. "BTC/USDC:USDC") and an exchange's native forms. Paper and live
// backends both implement it; CycleEngine is written against this
// interface only.
type Adapter interface {
	AccountState(ctx context.Context) (AccountState, error)
	Open(ctx context.Context, coin string, isBuy bool, quantityUSD, currentPrice, leverage, slippageTolerance float64, decisionID int64) (OpenResult, error)
	Close(ctx context.Context, coin string) (CloseResult, error)
	MaxLeverage(coin string) int
	SizeDecimals(coin string) int
}

// globalMaxLeverage is the hard ceiling enforced by every adapter
// regardless of what a decision or a per-coin limit requests.
const globalMaxLeverage = 20

// minNotionalUSD is the dust floor below which an open is rejected outright.
const minNotionalUSD = 1.0
