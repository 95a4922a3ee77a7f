package exchange

import (
	"context"
	"testing"

	"futuresagent/internal/ledger"
	"futuresagent/internal/store"
)

func newTestPaperAdapter(t *testing.T, balance float64) (*PaperAdapter, *ledger.Ledger) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	l, err := ledger.New(context.Background(), s, balance)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return NewPaperAdapter(l, 20, 4), l
}

func TestPaperAdapterOpenDelegatesToLedger(t *testing.T) {
	adapter, l := newTestPaperAdapter(t, 1000)
	ctx := context.Background()

	result, err := adapter.Open(ctx, "BTC/USDC:USDC", true, 50, 100000, 2, 0, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Status != OpenFilled {
		t.Fatalf("expected filled, got %s: %s", result.Status, result.Error)
	}
	pos, ok := l.OpenPosition("BTC/USDC:USDC")
	if !ok {
		t.Fatal("expected position to exist in ledger")
	}
	if pos.DecisionID == nil || *pos.DecisionID != 7 {
		t.Errorf("expected decision_id 7, got %v", pos.DecisionID)
	}
}

func TestPaperAdapterOpenRejectsDust(t *testing.T) {
	adapter, _ := newTestPaperAdapter(t, 1000)
	result, err := adapter.Open(context.Background(), "BTC/USDC:USDC", true, 0.1, 100000, 1, 0, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Status != OpenRejected {
		t.Fatalf("expected rejected for dust notional, got %s", result.Status)
	}
}

func TestPaperAdapterCapsLeverageAtCoinMax(t *testing.T) {
	adapter, l := newTestPaperAdapter(t, 1000)
	adapter.SetCoinLimits("ETH/USDC:USDC", 5, 3)

	result, err := adapter.Open(context.Background(), "ETH/USDC:USDC", true, 50, 3000, 20, 0, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Status != OpenFilled {
		t.Fatalf("expected filled, got %s: %s", result.Status, result.Error)
	}
	pos, _ := l.OpenPosition("ETH/USDC:USDC")
	if pos.Leverage != 5 {
		t.Errorf("expected leverage capped to 5, got %v", pos.Leverage)
	}
}

func TestPaperAdapterAccountStateReflectsPrices(t *testing.T) {
	adapter, _ := newTestPaperAdapter(t, 1000)
	ctx := context.Background()

	if _, err := adapter.Open(ctx, "BTC/USDC:USDC", true, 50, 100000, 2, 0, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	adapter.SetPrices(map[string]float64{"BTC/USDC:USDC": 101000})

	state, err := adapter.AccountState(ctx)
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if len(state.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(state.Positions))
	}
	if state.Positions[0].UnrealizedPnL <= 0 {
		t.Errorf("expected positive unrealized pnl on price increase, got %v", state.Positions[0].UnrealizedPnL)
	}
}

func TestPaperAdapterCloseRequiresKnownPrice(t *testing.T) {
	adapter, _ := newTestPaperAdapter(t, 1000)
	ctx := context.Background()
	if _, err := adapter.Open(ctx, "BTC/USDC:USDC", true, 50, 100000, 2, 0, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := adapter.Close(ctx, "BTC/USDC:USDC")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Status != CloseRejected {
		t.Fatalf("expected rejected without a known mark price, got %s", result.Status)
	}

	adapter.SetPrices(map[string]float64{"BTC/USDC:USDC": 102000})
	result, err = adapter.Close(ctx, "BTC/USDC:USDC")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Status != CloseFilled {
		t.Fatalf("expected filled, got %s: %s", result.Status, result.Error)
	}
}

func TestPaperAdapterMaxLeverageNeverExceedsGlobalCap(t *testing.T) {
	adapter, _ := newTestPaperAdapter(t, 1000)
	adapter.SetCoinLimits("DOGE/USDC:USDC", 50, 0)
	if got := adapter.MaxLeverage("DOGE/USDC:USDC"); got != globalMaxLeverage {
		t.Errorf("expected global cap %d, got %d", globalMaxLeverage, got)
	}
}
