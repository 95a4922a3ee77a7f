package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecisionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AppendDecision(ctx, Decision{
		Coin: "BTC", Signal: SignalBuyToEnter, QuantityUSD: 50, Leverage: 2,
		Confidence: 0.8, Justification: "trend up",
	})
	if err != nil {
		t.Fatalf("append decision: %v", err)
	}

	if err := s.SetDecisionExecution(ctx, id, ExecSuccess, nil); err != nil {
		t.Fatalf("set execution: %v", err)
	}

	decs, err := s.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("recent decisions: %v", err)
	}
	if len(decs) != 1 || decs[0].ExecutionStatus != ExecSuccess {
		t.Fatalf("unexpected decisions: %+v", decs)
	}
}

func TestClosePositionIsNotIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendPositionEntry(ctx, "BTC_1", "BTC", "long", 100000, 50, 2, nil); err != nil {
		t.Fatalf("append position: %v", err)
	}
	if err := s.ClosePosition(ctx, "BTC_1", 102000, 2, "llm_close"); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if err := s.ClosePosition(ctx, "BTC_1", 103000, 3, "llm_close"); err == nil {
		t.Fatalf("expected error closing an already-closed position")
	}
}

func TestOperatorInputAtMostOneActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveOperatorInput(ctx, "focus on ETH", "cycle", ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	secondID, err := s.SaveOperatorInput(ctx, "focus on SOL", "cycle", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	active, err := s.GetActiveOperatorInput(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.ID != secondID || active.Message != "focus on SOL" {
		t.Fatalf("expected only the latest input active, got %+v", active)
	}
}

func TestResetPreservesSchema(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendDecision(ctx, Decision{Coin: "BTC", Signal: SignalHold, Justification: "waiting for signal"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Reset(ctx, true); err != nil {
		t.Fatalf("reset: %v", err)
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Decisions != 0 {
		t.Fatalf("expected 0 decisions after reset, got %d", status.Decisions)
	}

	// Schema must still accept writes after reset.
	if _, err := s.AppendDecision(ctx, Decision{Coin: "ETH", Signal: SignalHold, Justification: "still waiting"}); err != nil {
		t.Fatalf("append after reset: %v", err)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, "max_open_positions", "3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.GetSetting(ctx, "max_open_positions")
	if err != nil || !ok || v != "3" {
		t.Fatalf("expected 3, got %q ok=%v err=%v", v, ok, err)
	}
}
