package exchange

import (
	"context"
	"fmt"
	"sync"

	"futuresagent/internal/ledger"
)

// PriceSetter lets a caller push the latest mark prices into an adapter
// before querying account state. The paper adapter needs this because,
// unlike a live exchange, it has no price feed of its own.
type PriceSetter interface {
	SetPrices(prices map[string]float64)
}

// PaperAdapter delegates all state and mutation to a Ledger. It never
// touches a network.
type PaperAdapter struct {
	ledger *ledger.Ledger

	mu     sync.RWMutex
	prices map[string]float64

	maxLeverage   int
	sizeDecimals  int
	coinOverrides map[string]coinLimits
}

type coinLimits struct {
	maxLeverage  int
	sizeDecimals int
}

// NewPaperAdapter wraps a Ledger as an Adapter. defaultMaxLeverage and
// defaultSizeDecimals apply to any coin without an explicit override.
func NewPaperAdapter(l *ledger.Ledger, defaultMaxLeverage, defaultSizeDecimals int) *PaperAdapter {
	return &PaperAdapter{
		ledger:        l,
		prices:        make(map[string]float64),
		maxLeverage:   defaultMaxLeverage,
		sizeDecimals:  defaultSizeDecimals,
		coinOverrides: make(map[string]coinLimits),
	}
}

// SetCoinLimits overrides max leverage / size decimals for one coin.
func (p *PaperAdapter) SetCoinLimits(coin string, maxLeverage, sizeDecimals int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coinOverrides[coin] = coinLimits{maxLeverage: maxLeverage, sizeDecimals: sizeDecimals}
}

// SetPrices updates the mark prices used for unrealized P&L and equity.
func (p *PaperAdapter) SetPrices(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices = prices
}

func (p *PaperAdapter) snapshotPrices() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

// AccountState reports the ledger's balance, equity, and open positions at
// the last prices pushed via SetPrices.
func (p *PaperAdapter) AccountState(ctx context.Context) (AccountState, error) {
	prices := p.snapshotPrices()

	positions := p.ledger.OpenPositions()
	out := AccountState{
		Balance:       p.ledger.AvailableBalance(),
		RealizedPnL:   p.ledger.RealizedPnL(),
		UnrealizedPnL: p.ledger.UnrealizedPnL(prices),
		Equity:        p.ledger.Equity(prices),
	}
	for _, pos := range positions {
		price, ok := prices[pos.Coin]
		if !ok {
			price = pos.EntryPrice
		}
		pnl := ledger.PnL(pos.Side, pos.EntryPrice, price, pos.QuantityUSD, pos.Leverage)
		entryTime := pos.EntryTime
		out.Positions = append(out.Positions, PositionState{
			Coin:          pos.Coin,
			Side:          pos.Side,
			EntryPrice:    pos.EntryPrice,
			QuantityUSD:   pos.QuantityUSD,
			Leverage:      pos.Leverage,
			UnrealizedPnL: pnl,
			EntryTime:     &entryTime,
		})
	}
	return out, nil
}

// Open opens (or would-open) a paper position through the ledger.
func (p *PaperAdapter) Open(ctx context.Context, coin string, isBuy bool, quantityUSD, currentPrice, leverage, slippageTolerance float64, decisionID int64) (OpenResult, error) {
	if quantityUSD*leverage < minNotionalUSD {
		return OpenResult{Status: OpenRejected, Error: "notional below dust floor"}, nil
	}
	cappedLeverage := leverage
	if max := float64(p.MaxLeverage(coin)); cappedLeverage > max {
		cappedLeverage = max
	}

	side := "short"
	if isBuy {
		side = "long"
	}

	fillPrice := currentPrice
	if slippageTolerance > 0 {
		if isBuy {
			fillPrice = currentPrice * (1 + slippageTolerance)
		} else {
			fillPrice = currentPrice * (1 - slippageTolerance)
		}
	}

	pos, err := p.ledger.Open(ctx, coin, side, fillPrice, quantityUSD, cappedLeverage, decisionID)
	if err != nil {
		return OpenResult{Status: OpenRejected, Error: err.Error()}, nil
	}

	fillSize := ledger.Units(pos.QuantityUSD, pos.Leverage, pos.EntryPrice)
	return OpenResult{Status: OpenFilled, FillPrice: pos.EntryPrice, FillSize: fillSize}, nil
}

// Close closes a paper position at the last known mark price for the coin.
func (p *PaperAdapter) Close(ctx context.Context, coin string) (CloseResult, error) {
	prices := p.snapshotPrices()
	price, ok := prices[coin]
	if !ok {
		return CloseResult{Status: CloseRejected, Error: fmt.Sprintf("no mark price known for %s", coin)}, nil
	}
	if _, err := p.ledger.Close(ctx, coin, price, "decision"); err != nil {
		return CloseResult{Status: CloseRejected, Error: err.Error()}, nil
	}
	return CloseResult{Status: CloseFilled}, nil
}

// MaxLeverage returns the per-coin cap, capped globally at 20x.
func (p *PaperAdapter) MaxLeverage(coin string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	limit := p.maxLeverage
	if override, ok := p.coinOverrides[coin]; ok {
		limit = override.maxLeverage
	}
	if limit > globalMaxLeverage {
		limit = globalMaxLeverage
	}
	return limit
}

// SizeDecimals returns the per-coin size precision.
func (p *PaperAdapter) SizeDecimals(coin string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if override, ok := p.coinOverrides[coin]; ok {
		return override.sizeDecimals
	}
	return p.sizeDecimals
}
