// Package ledger is the in-memory paper-trading account: balance, open
// positions, margin accounting, realized/unrealized P&L, Sharpe, and
// liquidation. It mirrors every mutation through to the Store so that
// restarting the process reconstructs identical state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"futuresagent/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrPositionExists is returned by Open when a position for the coin
	// is already open. At most one open position per coin is a hard
	// invariant, not a warning — unlike the permissive "replace in place"
	// behavior of earlier prototypes of this kind of account.
	ErrPositionExists = errors.New("ledger: position already open for coin")
	// ErrNoPosition is returned by Close when no open position exists.
	ErrNoPosition = errors.New("ledger: no open position for coin")
	// ErrInsufficientBalance is returned by Open when margin exceeds
	// available balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Ledger is the paper account. All mutating methods acquire mu and write
// through to Store before releasing it, so Store and the in-memory view
// never diverge for longer than a single call.
type Ledger struct {
	mu             sync.RWMutex
	store          *store.Store
	balance        float64
	realizedPnL    float64
	initialBalance float64
	positions      map[string]store.Position // keyed by coin, open only
	closedReturns  []float64                 // (realized_pnl/quantity_usd)*100 per closed position, in close order
}

// New constructs a Ledger, loading the latest snapshot and open positions
// from Store if present; otherwise it starts fresh at initialBalance.
func New(ctx context.Context, s *store.Store, initialBalance float64) (*Ledger, error) {
	l := &Ledger{
		store:          s,
		balance:        initialBalance,
		initialBalance: initialBalance,
		positions:      make(map[string]store.Position),
	}

	snap, err := s.LatestAccountSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load snapshot: %w", err)
	}
	if snap != nil {
		l.balance = snap.BalanceUSD
		l.realizedPnL = snap.RealizedPnL
	} else {
		log.Printf("[LEDGER] no prior account snapshot found, starting fresh at balance=%.2f", initialBalance)
	}

	open, err := s.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load open positions: %w", err)
	}
	for _, p := range open {
		l.positions[p.Coin] = p
	}

	closed, err := s.ClosedPositions(ctx, 10000)
	if err != nil {
		return nil, fmt.Errorf("ledger: load closed positions: %w", err)
	}
	for i := len(closed) - 1; i >= 0; i-- {
		p := closed[i]
		if p.QuantityUSD > 0 && p.RealizedPnL != nil {
			l.closedReturns = append(l.closedReturns, (*p.RealizedPnL/p.QuantityUSD)*100)
		}
	}

	return l, nil
}

// AvailableBalance is the uncommitted cash balance.
func (l *Ledger) AvailableBalance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// RealizedPnL is the cumulative realized P&L across all closed positions.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedPnL
}

// OpenPosition returns the currently open position for a coin, if any.
func (l *Ledger) OpenPosition(coin string) (store.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[coin]
	return p, ok
}

// OpenPositions returns a snapshot of all currently open positions.
func (l *Ledger) OpenPositions() []store.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]store.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// Units converts margin + leverage into the underlying coin quantity:
// units = (quantity_usd * leverage) / entry_price.
func Units(quantityUSD, leverage, entryPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	return (quantityUSD * leverage) / entryPrice
}

// PnL computes realized/unrealized P&L for one side at one price, per the
// margin formula: long = (exit-entry)*units, short = (entry-exit)*units.
func PnL(side string, entryPrice, atPrice, quantityUSD, leverage float64) float64 {
	units := Units(quantityUSD, leverage, entryPrice)
	if side == "short" {
		return (entryPrice - atPrice) * units
	}
	return (atPrice - entryPrice) * units
}

// LiquidationPrice returns the price at which a position's margin is fully
// consumed: long = entry*(1-1/L), short = entry*(1+1/L).
func LiquidationPrice(side string, entryPrice, leverage float64) float64 {
	if leverage <= 0 {
		return entryPrice
	}
	threshold := 1.0 / leverage
	if side == "short" {
		return entryPrice * (1 + threshold)
	}
	return entryPrice * (1 - threshold)
}

// UnrealizedPnL sums PnL across open positions present in prices.
func (l *Ledger) UnrealizedPnL(prices map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for coin, p := range l.positions {
		price, ok := prices[coin]
		if !ok {
			continue
		}
		total += PnL(p.Side, p.EntryPrice, price, p.QuantityUSD, p.Leverage)
	}
	return total
}

// Equity is balance + unrealized P&L at the given prices.
func (l *Ledger) Equity(prices map[string]float64) float64 {
	return l.AvailableBalance() + l.UnrealizedPnL(prices)
}

// CanOpen reports whether quantityUSD of margin can be committed right now.
// Position-count/leverage-cap/daily-loss checks belong to RiskGate; this is
// only the balance constraint Ledger itself must enforce before mutating.
func (l *Ledger) CanOpen(quantityUSD float64) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quantityUSD > l.balance {
		return false, fmt.Sprintf("insufficient balance: need $%.2f, available $%.2f", quantityUSD, l.balance)
	}
	return true, ""
}

// Open commits margin and records a new Position. Fails if a position for
// coin is already open.
func (l *Ledger) Open(ctx context.Context, coin, side string, entryPrice, quantityUSD, leverage float64, decisionID int64) (store.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[coin]; exists {
		return store.Position{}, ErrPositionExists
	}
	if quantityUSD > l.balance {
		return store.Position{}, ErrInsufficientBalance
	}

	positionID := fmt.Sprintf("%s_%s_%s", coin, time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	did := decisionID
	if err := l.store.AppendPositionEntry(ctx, positionID, coin, side, entryPrice, quantityUSD, leverage, &did); err != nil {
		return store.Position{}, err
	}

	l.balance -= quantityUSD
	p := store.Position{
		PositionID:  positionID,
		Coin:        coin,
		Side:        side,
		EntryTime:   time.Now().UTC(),
		EntryPrice:  entryPrice,
		QuantityUSD: quantityUSD,
		Leverage:    leverage,
		DecisionID:  &did,
		Status:      store.PositionOpen,
	}
	l.positions[coin] = p
	return p, nil
}

// Close exits the open position for coin at exitPrice, returning margin plus
// realized P&L to the balance. Fails if no open position exists.
func (l *Ledger) Close(ctx context.Context, coin string, exitPrice float64, exitReason string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(ctx, coin, exitPrice, exitReason)
}

func (l *Ledger) closeLocked(ctx context.Context, coin string, exitPrice float64, exitReason string) (float64, error) {
	p, exists := l.positions[coin]
	if !exists {
		return 0, ErrNoPosition
	}

	pnl := PnL(p.Side, p.EntryPrice, exitPrice, p.QuantityUSD, p.Leverage)
	if err := l.store.ClosePosition(ctx, p.PositionID, exitPrice, pnl, exitReason); err != nil {
		return 0, err
	}

	l.balance += p.QuantityUSD + pnl
	l.realizedPnL += pnl
	if p.QuantityUSD > 0 {
		l.closedReturns = append(l.closedReturns, (pnl/p.QuantityUSD)*100)
	}
	delete(l.positions, coin)
	return pnl, nil
}

// CheckLiquidation closes any open position whose current price has crossed
// its liquidation threshold, at the liquidation price. Returns the closed
// position ids.
func (l *Ledger) CheckLiquidation(ctx context.Context, prices map[string]float64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closedIDs []string
	for coin, p := range l.positions {
		price, ok := prices[coin]
		if !ok {
			continue
		}
		liqPrice := LiquidationPrice(p.Side, p.EntryPrice, p.Leverage)
		crossed := (p.Side == "long" && price <= liqPrice) || (p.Side == "short" && price >= liqPrice)
		if !crossed {
			continue
		}
		log.Printf("[LEDGER] liquidation: %s %s entry=%.2f liq=%.2f price=%.2f", coin, p.Side, p.EntryPrice, liqPrice, price)
		if _, err := l.closeLocked(ctx, coin, liqPrice, "liquidation"); err != nil {
			return closedIDs, err
		}
		closedIDs = append(closedIDs, p.PositionID)
	}
	return closedIDs, nil
}

// Sharpe computes the per-trade Sharpe ratio over realized returns
// (realized_pnl/quantity_usd)*100 for closed positions. Requires at least
// two samples and a nonzero sample standard deviation (ddof=1); otherwise
// returns nil, matching the source's behavior of not inventing a number
// from too little data.
func (l *Ledger) Sharpe() *float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sharpeOf(l.closedReturns)
}

func sharpeOf(returns []float64) *float64 {
	n := len(returns)
	if n < 2 {
		return nil
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, r := range returns {
		d := r - mean
		sqDiff += d * d
	}
	std := math.Sqrt(sqDiff / float64(n-1))
	if std == 0 {
		return nil
	}
	sharpe := mean / std
	return &sharpe
}

// SaveState appends an AccountSnapshot reflecting the current balance,
// equity, P&L, and Sharpe at the given prices.
func (l *Ledger) SaveState(ctx context.Context, prices map[string]float64) error {
	l.mu.RLock()
	unrealized := 0.0
	for coin, p := range l.positions {
		if price, ok := prices[coin]; ok {
			unrealized += PnL(p.Side, p.EntryPrice, price, p.QuantityUSD, p.Leverage)
		}
	}
	balance := l.balance
	realized := l.realizedPnL
	numPositions := len(l.positions)
	sharpe := sharpeOf(l.closedReturns)
	l.mu.RUnlock()

	equity := balance + unrealized
	var returnPct *float64
	if l.initialBalance > 0 {
		v := (equity/l.initialBalance - 1) * 100
		returnPct = &v
	}

	_, err := l.store.AppendAccountSnapshot(ctx, store.AccountSnapshot{
		BalanceUSD:    balance,
		EquityUSD:     equity,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		TotalPnL:      realized + unrealized,
		SharpeRatio:   sharpe,
		NumPositions:  numPositions,
		ReturnPct:     returnPct,
	})
	return err
}
