package risk

import (
	"testing"

	"futuresagent/internal/store"
)

type fakeLedger struct {
	balance float64
	open    map[string]store.Position
}

func (f fakeLedger) AvailableBalance() float64 { return f.balance }
func (f fakeLedger) OpenPosition(coin string) (store.Position, bool) {
	p, ok := f.open[coin]
	return p, ok
}
func (f fakeLedger) OpenPositions() []store.Position {
	out := make([]store.Position, 0, len(f.open))
	for _, p := range f.open {
		out = append(out, p)
	}
	return out
}

func defaultSettings() Settings {
	return Settings{MinMarginUSD: 5, MaxMarginUSD: 100, MaxOpenPositions: 3, DailyLossLimitUSD: 50}
}

func TestHoldAlwaysOK(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	r := Validate(Decision{Coin: "BTC", Signal: store.SignalHold}, 100000, 5, lv, defaultSettings(), 0)
	if !r.OK {
		t.Fatalf("hold should always be ok, got reason %q", r.Reason)
	}
}

func TestCloseRequiresOpenPosition(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	r := Validate(Decision{Coin: "BTC", Signal: store.SignalClose}, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("close with no open position should be rejected")
	}

	lv.open["BTC"] = store.Position{Coin: "BTC"}
	r = Validate(Decision{Coin: "BTC", Signal: store.SignalClose}, 100000, 5, lv, defaultSettings(), 0)
	if !r.OK {
		t.Fatalf("close with an open position should be ok, got reason %q", r.Reason)
	}
}

func TestEntryQuantityOutsideBoundsRejected(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 200, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("quantity above max_margin_usd should be rejected")
	}
}

func TestEntryLeverageAboveCoinCapRejected(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 10}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("leverage above per-coin cap should be rejected")
	}
}

func TestEntryExceedingBalanceRejected(t *testing.T) {
	lv := fakeLedger{balance: 40, open: map[string]store.Position{}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("quantity above available balance should be rejected")
	}
}

func TestEntryDuplicateCoinRejected(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{"BTC": {Coin: "BTC"}}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("entry for a coin with an open position should be rejected")
	}
}

func TestEntryDailyLossLimitRejected(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), -60)
	if r.OK {
		t.Fatalf("daily realized loss beyond the limit should reject new entries")
	}
}

func TestEntryPositionCountCapRejected(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{
		"BTC": {Coin: "BTC"}, "ETH": {Coin: "ETH"}, "SOL": {Coin: "SOL"},
	}}
	d := Decision{Coin: "AVAX", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if r.OK {
		t.Fatalf("entry at the position count cap should be rejected")
	}
}

func TestEntryWithinLimitsIsAllowed(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 2}
	r := Validate(d, 100000, 5, lv, defaultSettings(), 0)
	if !r.OK {
		t.Fatalf("expected entry to be allowed, got reason %q", r.Reason)
	}
}

func TestLiquidationAdvisoryAttachedNotBlocking(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	// 15x leverage puts liquidation within ~6.7% of entry, under the 10% threshold.
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 15}
	r := Validate(d, 100000, 20, lv, defaultSettings(), 0)
	if !r.OK {
		t.Fatalf("advisories must not block execution, got reason %q", r.Reason)
	}
	if len(r.Advisories) == 0 {
		t.Fatalf("expected a liquidation-distance advisory")
	}
}

func TestLeveragedStopLossAdvisory(t *testing.T) {
	lv := fakeLedger{balance: 1000, open: map[string]store.Position{}}
	stop := 94000.0
	d := Decision{Coin: "BTC", Signal: store.SignalBuyToEnter, QuantityUSD: 50, Leverage: 10, StopLoss: &stop}
	r := Validate(d, 100000, 20, lv, defaultSettings(), 0)
	if !r.OK {
		t.Fatalf("expected entry allowed, got reason %q", r.Reason)
	}
	found := false
	for _, a := range r.Advisories {
		if a != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one advisory for a leveraged stop-loss")
	}
}
