package cycle

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"futuresagent/internal/exchange"
	"futuresagent/internal/ledger"
	"futuresagent/internal/prompt"
	"futuresagent/internal/store"
)

type fakeMarketData struct {
	prices map[string]float64
}

func (f *fakeMarketData) Snapshot(ctx context.Context, coin string) (prompt.CoinSnapshot, error) {
	return prompt.CoinSnapshot{
		Coin:         coin,
		CurrentPrice: f.prices[coin],
		Indicators:   map[string][]float64{"RSI14": {50, 51, 52}},
	}, nil
}

type fakeCompleter struct {
	response string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, nil
}

func newTestEngine(t *testing.T, balance float64, llmResponse string) (*Engine, *store.Store) {
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
	adapter := exchange.NewPaperAdapter(l, 20, 4)

	builder := prompt.New(prompt.Config{
		ExchangeName:       "test-exchange",
		AssetClass:         "perpetual futures",
		MinPositionSizeUSD: 10,
		MaxLeverage:        20,
		PresetName:         "standard",
	})

	token := NewControlToken(filepath.Join(t.TempDir(), "control"))
	md := &fakeMarketData{prices: map[string]float64{"BTC/USDC:USDC": 100000}}
	completer := &fakeCompleter{response: llmResponse}

	e := New(s, l, adapter, builder, completer, md, token)
	return e, s
}

func TestRunCycleOpensPositionOnBuySignal(t *testing.T) {
	e, s := newTestEngine(t, 1000, `{
		"coin": "BTC/USDC:USDC",
		"signal": "buy_to_enter",
		"quantity_usd": 50,
		"leverage": 2,
		"confidence": 0.8,
		"justification": "momentum looks strong"
	}`)

	settings := defaultSettings()
	settings.PrimaryCoin = "BTC/USDC:USDC"
	e.runCycle(context.Background(), settings)

	positions, err := s.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(positions))
	}

	decisions, err := s.RecentDecisions(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].ExecutionStatus != store.ExecSuccess {
		t.Fatalf("expected one successful decision, got %+v", decisions)
	}

	if positions[0].DecisionID == nil || *positions[0].DecisionID != decisions[0].Decision.ID {
		t.Errorf("expected position decision_id %d, got %v", decisions[0].Decision.ID, positions[0].DecisionID)
	}
}

func TestRunCyclePausesOnInsufficientBalance(t *testing.T) {
	e, s := newTestEngine(t, 5, `{"coin":"BTC/USDC:USDC","signal":"hold","quantity_usd":0,"leverage":0,"confidence":0.5,"justification":"n/a"}`)
	settings := defaultSettings()
	settings.MinBalanceThresholdUSD = 20
	settings.PrimaryCoin = "BTC/USDC:USDC"

	e.runCycle(context.Background(), settings)

	statuses, err := s.RecentStatus(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentStatus: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Status != "paused" {
		t.Fatalf("expected a single paused status, got %+v", statuses)
	}

	decisions, _ := s.RecentDecisions(context.Background(), 5)
	if len(decisions) != 0 {
		t.Errorf("expected no decision to be appended when paused pre-flight, got %d", len(decisions))
	}
}

func TestRunCycleRejectsOversizedEntryViaRiskGate(t *testing.T) {
	e, s := newTestEngine(t, 1000, fmt.Sprintf(`{
		"coin": "BTC/USDC:USDC",
		"signal": "buy_to_enter",
		"quantity_usd": %f,
		"leverage": 2,
		"confidence": 0.8,
		"justification": "oversized on purpose"
	}`, 5000.0))

	settings := defaultSettings()
	settings.MaxMarginUSD = 500
	settings.PrimaryCoin = "BTC/USDC:USDC"

	e.runCycle(context.Background(), settings)

	positions, _ := s.OpenPositions(context.Background())
	if len(positions) != 0 {
		t.Fatalf("expected no position opened for a rejected decision, got %d", len(positions))
	}

	decisions, err := s.RecentDecisions(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].ExecutionStatus != store.ExecSkipped {
		t.Fatalf("expected one skipped decision, got %+v", decisions)
	}
}

func TestControlTokenStopsRunLoop(t *testing.T) {
	e, _ := newTestEngine(t, 1000, `{"coin":"BTC/USDC:USDC","signal":"hold","quantity_usd":0,"leverage":0,"confidence":0.5,"justification":"n/a"}`)
	if err := e.Token.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
