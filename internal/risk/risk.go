// Package risk is the stateless gate between a parsed Decision and
// execution: it validates a proposed trade against balance, leverage,
// position-count, and daily-loss limits, and attaches non-blocking
// advisories for liquidation proximity and stop-loss risk.
package risk

import (
	"fmt"

	"futuresagent/internal/ledger"
	"futuresagent/internal/store"
)

// LedgerView is the read-only slice of Ledger that RiskGate needs. Ledger
// satisfies this directly; it exists so risk does not need to know about
// Ledger's mutating methods.
type LedgerView interface {
	AvailableBalance() float64
	OpenPosition(coin string) (store.Position, bool)
	OpenPositions() []store.Position
}

// Settings is the subset of the Setting table RiskGate consults. Values
// come from Store; the cycle driver is responsible for typed parsing.
type Settings struct {
	MinMarginUSD      float64
	MaxMarginUSD      float64
	MaxOpenPositions  int
	DailyLossLimitUSD float64
}

// Decision is the entry under evaluation. It mirrors the fields of
// store.Decision that RiskGate needs, kept separate so callers can
// validate before a Decision has been persisted (and thus has no id yet).
type Decision struct {
	Coin        string
	Signal      store.Signal
	QuantityUSD float64
	Leverage    float64
	StopLoss    *float64
	ProfitTarget *float64
}

// Result is RiskGate's verdict: OK and Reason follow the "valid, with a
// reason on rejection" shape; Advisories are soft warnings that never
// block execution.
type Result struct {
	OK         bool
	Reason     string
	Advisories []string
}

func reject(reason string) Result { return Result{OK: false, Reason: reason} }
func allow(advisories ...string) Result {
	return Result{OK: true, Advisories: advisories}
}

// Validate runs the ordered checks from rule 1 through rule 3, then
// attaches soft warnings. currentPrice is the latest price for
// decision.Coin; maxLeverage is the per-coin cap (from the exchange
// adapter's leverage cache); dailyRealizedPnL is the sum of realized P&L
// for positions closed in the current UTC day.
func Validate(d Decision, currentPrice, maxLeverage float64, lv LedgerView, s Settings, dailyRealizedPnL float64) Result {
	switch d.Signal {
	case store.SignalHold:
		// Rule 1: hold is always ok.
		return allow()

	case store.SignalClose:
		// Rule 2: close requires an open position for the coin.
		if _, open := lv.OpenPosition(d.Coin); !open {
			return reject(fmt.Sprintf("no open position for %s", d.Coin))
		}
		return allow()

	case store.SignalBuyToEnter, store.SignalSellToEnter:
		return validateEntry(d, currentPrice, maxLeverage, lv, s, dailyRealizedPnL)

	default:
		return reject(fmt.Sprintf("unknown signal %q", d.Signal))
	}
}

func validateEntry(d Decision, currentPrice, maxLeverage float64, lv LedgerView, s Settings, dailyRealizedPnL float64) Result {
	// Rule 3, in the documented order.
	if d.QuantityUSD < s.MinMarginUSD || d.QuantityUSD > s.MaxMarginUSD {
		return reject(fmt.Sprintf("quantity_usd %.2f outside [%.2f, %.2f]", d.QuantityUSD, s.MinMarginUSD, s.MaxMarginUSD))
	}
	if d.Leverage <= 0 || d.Leverage > maxLeverage {
		return reject(fmt.Sprintf("leverage %.1f outside (0, %.1f]", d.Leverage, maxLeverage))
	}
	if d.QuantityUSD > lv.AvailableBalance() {
		return reject(fmt.Sprintf("quantity_usd %.2f exceeds available balance %.2f", d.QuantityUSD, lv.AvailableBalance()))
	}
	if _, open := lv.OpenPosition(d.Coin); open {
		return reject(fmt.Sprintf("position already open for %s", d.Coin))
	}
	if s.DailyLossLimitUSD > 0 && dailyRealizedPnL < -s.DailyLossLimitUSD {
		return reject(fmt.Sprintf("daily realized loss %.2f exceeds limit %.2f", -dailyRealizedPnL, s.DailyLossLimitUSD))
	}
	if s.MaxOpenPositions > 0 && len(lv.OpenPositions()) >= s.MaxOpenPositions {
		return reject(fmt.Sprintf("open position count %d at cap %d", len(lv.OpenPositions()), s.MaxOpenPositions))
	}

	side := "long"
	if d.Signal == store.SignalSellToEnter {
		side = "short"
	}
	return allow(advisories(d, side, currentPrice)...)
}

// advisories computes the two soft warnings from SPEC_FULL §4.3: liquidation
// distance under 10%, and a leveraged stop-loss that could cost more than
// half the position's margin. Neither ever rejects.
func advisories(d Decision, side string, currentPrice float64) []string {
	var out []string

	liqPrice := ledger.LiquidationPrice(side, currentPrice, d.Leverage)
	if currentPrice > 0 {
		distancePct := (currentPrice - liqPrice) / currentPrice * 100
		if side == "short" {
			distancePct = (liqPrice - currentPrice) / currentPrice * 100
		}
		if distancePct < 10 {
			out = append(out, fmt.Sprintf("liquidation price %.4f is within %.1f%% of entry", liqPrice, distancePct))
		}
	}

	if d.StopLoss != nil && *d.StopLoss > 0 && currentPrice > 0 {
		stopDistancePct := (currentPrice - *d.StopLoss) / currentPrice
		if side == "short" {
			stopDistancePct = (*d.StopLoss - currentPrice) / currentPrice
		}
		if stopDistancePct < 0 {
			stopDistancePct = -stopDistancePct
		}
		lossPct := stopDistancePct * d.Leverage * 100
		if lossPct > 50 {
			out = append(out, fmt.Sprintf("stop-loss at %.1fx leverage risks %.0f%% of margin", d.Leverage, lossPct))
		}
	}

	return out
}
