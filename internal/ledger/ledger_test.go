package ledger

import (
	"context"
	"math"
	"testing"

	"futuresagent/internal/store"
)

func newTestLedger(t *testing.T, balance float64) (*Ledger, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/ledger.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	l, err := New(context.Background(), s, balance)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l, s
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// TestPaperLongCycle mirrors S1 from the end-to-end scenarios: open a BTC
// long at 100000 with $50 margin and 2x leverage, observe unrealized PnL as
// price moves, then close for a realized gain.
func TestPaperLongCycle(t *testing.T) {
	l, _ := newTestLedger(t, 1000)
	ctx := context.Background()

	pos, err := l.Open(ctx, "BTC", "long", 100000, 50, 2, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := Units(50, 2, 100000); !almostEqual(got, 0.001) {
		t.Fatalf("units = %v, want 0.001", got)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 950) {
		t.Fatalf("balance after open = %v, want 950", got)
	}

	prices := map[string]float64{"BTC": 101000}
	if got := l.UnrealizedPnL(prices); !almostEqual(got, 1) {
		t.Fatalf("unrealized pnl = %v, want 1", got)
	}
	if got := l.Equity(prices); !almostEqual(got, 951) {
		t.Fatalf("equity = %v, want 951", got)
	}

	pnl, err := l.Close(ctx, "BTC", 102000, "llm_close")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(pnl, 2) {
		t.Fatalf("realized pnl = %v, want 2", pnl)
	}
	if got := l.AvailableBalance(); !almostEqual(got, 1002) {
		t.Fatalf("balance after close = %v, want 1002", got)
	}
	_ = pos
}

// TestShortCloseMath mirrors S2.
func TestShortCloseMath(t *testing.T) {
	l, _ := newTestLedger(t, 1000)
	ctx := context.Background()

	if _, err := l.Open(ctx, "ETH", "short", 3000, 30, 3, 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	pnl, err := l.Close(ctx, "ETH", 2900, "llm_close")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(pnl, 3) {
		t.Fatalf("realized pnl = %v, want 3", pnl)
	}
}

func TestOpenRejectsDuplicateCoin(t *testing.T) {
	l, _ := newTestLedger(t, 1000)
	ctx := context.Background()

	if _, err := l.Open(ctx, "BTC", "long", 100000, 50, 2, 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Open(ctx, "BTC", "long", 100500, 50, 2, 2); err != ErrPositionExists {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestCloseWithNoPositionFails(t *testing.T) {
	l, _ := newTestLedger(t, 1000)
	if _, err := l.Close(context.Background(), "BTC", 100000, "llm_close"); err != ErrNoPosition {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestSharpeRequiresTwoSamplesAndNonzeroStd(t *testing.T) {
	if s := sharpeOf(nil); s != nil {
		t.Fatalf("expected nil sharpe for empty returns")
	}
	if s := sharpeOf([]float64{1.0}); s != nil {
		t.Fatalf("expected nil sharpe for single sample")
	}
	if s := sharpeOf([]float64{1.0, 1.0}); s != nil {
		t.Fatalf("expected nil sharpe for zero stddev")
	}
	if s := sharpeOf([]float64{1.0, 2.0, 3.0}); s == nil {
		t.Fatalf("expected non-nil sharpe")
	}
}

func TestLiquidationClosesPosition(t *testing.T) {
	l, _ := newTestLedger(t, 1000)
	ctx := context.Background()

	// 5x leverage long liquidates at a 20% drop.
	if _, err := l.Open(ctx, "BTC", "long", 100000, 50, 5, 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := l.CheckLiquidation(ctx, map[string]float64{"BTC": 79000})
	if err != nil {
		t.Fatalf("check liquidation: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 liquidation, got %d", len(closed))
	}
	if _, ok := l.OpenPosition("BTC"); ok {
		t.Fatalf("position should be closed after liquidation")
	}
}
