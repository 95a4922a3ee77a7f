package prompt

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		ExchangeName:       "Hyperliquid",
		AssetClass:         "perpetual futures",
		MinPositionSizeUSD: 10,
		MaxLeverage:        20,
		PresetName:         "standard",
	}
}

func TestBuildSystemPromptIncludesPresetSections(t *testing.T) {
	b := New(testConfig())
	out, err := b.BuildSystemPrompt()
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	for _, want := range []string{"Hyperliquid", "Balanced Trend Following", "Position Sizing", "Risk Management", "Exit Discipline", "Output Format"} {
		if !strings.Contains(out, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestBuildSystemPromptUnknownPresetErrors(t *testing.T) {
	cfg := testConfig()
	cfg.PresetName = "does_not_exist"
	b := New(cfg)
	if _, err := b.BuildSystemPrompt(); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestBuildUserPromptIncludesLeverageTable(t *testing.T) {
	b := New(testConfig())
	out := b.BuildUserPrompt(30, "", map[string]float64{"BTC/USDC:USDC": 20, "ETH/USDC:USDC": 15}, nil, AccountState{})
	if !strings.Contains(out, "BTC/USDC:USDC: max 20.0x") {
		t.Errorf("missing BTC leverage row:\n%s", out)
	}
	if !strings.Contains(out, "ETH/USDC:USDC: max 15.0x") {
		t.Errorf("missing ETH leverage row:\n%s", out)
	}
}

func TestBuildUserPromptIncludesOperatorGuidanceWhenPresent(t *testing.T) {
	b := New(testConfig())
	out := b.BuildUserPrompt(10, "favor BTC longs today", nil, nil, AccountState{})
	if !strings.Contains(out, "OPERATOR GUIDANCE") || !strings.Contains(out, "favor BTC longs today") {
		t.Errorf("expected operator guidance to be echoed:\n%s", out)
	}
}

func TestBuildUserPromptOmitsOperatorGuidanceWhenAbsent(t *testing.T) {
	b := New(testConfig())
	out := b.BuildUserPrompt(10, "", nil, nil, AccountState{})
	if strings.Contains(out, "OPERATOR GUIDANCE") {
		t.Errorf("did not expect operator guidance section:\n%s", out)
	}
}

func TestBuildUserPromptRendersCoinIndicatorsInOrder(t *testing.T) {
	b := New(testConfig())
	coins := []CoinSnapshot{{
		Coin:         "BTC/USDC:USDC",
		CurrentPrice: 100000,
		Indicators: map[string][]float64{
			"RSI14": {50, 51, 52},
			"EMA20": {99000, 99500, 100000},
		},
	}}
	out := b.BuildUserPrompt(0, "", nil, coins, AccountState{})
	emaIdx := strings.Index(out, "EMA20:")
	rsiIdx := strings.Index(out, "RSI14:")
	if emaIdx == -1 || rsiIdx == -1 {
		t.Fatalf("expected both indicator series present:\n%s", out)
	}
	if emaIdx > rsiIdx {
		t.Errorf("expected EMA20 to render before RSI14 per enumerated order")
	}
	if !strings.Contains(out, "current_price = 100000.00") {
		t.Errorf("missing current price:\n%s", out)
	}
}

func TestBuildUserPromptAtCapacityDisallowsEntry(t *testing.T) {
	b := New(testConfig())
	account := AccountState{
		MaxPositions: 1,
		Positions: []PositionView{
			{Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100000, QuantityUSD: 50, Leverage: 2},
		},
	}
	out := b.BuildUserPrompt(0, "", nil, nil, account)
	if !strings.Contains(out, "POSITION LIMIT REACHED") {
		t.Errorf("expected position-limit guidance at cap:\n%s", out)
	}
}

func TestBuildUserPromptBelowCapacityEncouragesDiversification(t *testing.T) {
	b := New(testConfig())
	account := AccountState{
		MaxPositions: 3,
		Positions: []PositionView{
			{Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100000, QuantityUSD: 50, Leverage: 2},
		},
	}
	out := b.BuildUserPrompt(0, "", nil, nil, account)
	if !strings.Contains(out, "diversification") {
		t.Errorf("expected diversification guidance below cap:\n%s", out)
	}
	if strings.Contains(out, "POSITION LIMIT REACHED") {
		t.Errorf("did not expect position-limit warning below cap")
	}
}

func TestBuildUserPromptIncludesTradeHistoryAndDecisions(t *testing.T) {
	b := New(testConfig())
	account := AccountState{
		TradeHistory: []TradeHistoryEntry{
			{Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100000, ExitPrice: 102000, RealizedPnL: 20},
		},
		RecentDecisions: []DecisionSummary{
			{Coin: "ETH/USDC:USDC", Signal: "hold", Confidence: 0.6, Justification: "no clean setup"},
		},
	}
	out := b.BuildUserPrompt(0, "", nil, nil, account)
	if !strings.Contains(out, "RECENT TRADE HISTORY") || !strings.Contains(out, "102000.00") {
		t.Errorf("missing trade history:\n%s", out)
	}
	if !strings.Contains(out, "YOUR RECENT DECISIONS") || !strings.Contains(out, "no clean setup") {
		t.Errorf("missing recent decisions:\n%s", out)
	}
}

func TestBuildUserPromptIncludesPositionExitPlan(t *testing.T) {
	b := New(testConfig())
	target := 105000.0
	stop := 98000.0
	entry := time.Now().Add(-45 * time.Minute)
	account := AccountState{
		MaxPositions: 3,
		Positions: []PositionView{{
			Coin: "BTC/USDC:USDC", Side: "long", EntryPrice: 100000, CurrentPrice: 101000,
			QuantityUSD: 50, Leverage: 2, UnrealizedPnL: 1, EntryTime: &entry,
			ProfitTarget: &target, StopLoss: &stop,
		}},
	}
	out := b.BuildUserPrompt(0, "", nil, nil, account)
	if !strings.Contains(out, "Target: $105000.00") || !strings.Contains(out, "Stop: $98000.00") {
		t.Errorf("missing exit plan rendering:\n%s", out)
	}
}

func TestListPresetsReturnsAllThree(t *testing.T) {
	b := New(testConfig())
	presets := b.ListPresets()
	if len(presets) != 3 {
		t.Fatalf("expected 3 presets, got %d", len(presets))
	}
}

func TestRenderPresetUnknownErrors(t *testing.T) {
	b := New(testConfig())
	if _, err := b.RenderPreset("nope"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestSampleUserPromptReferencesSampleCoin(t *testing.T) {
	b := New(testConfig())
	out := b.SampleUserPrompt()
	if !strings.Contains(out, "BTC/USDC:USDC") {
		t.Errorf("expected sample prompt to reference sample coin:\n%s", out)
	}
}
