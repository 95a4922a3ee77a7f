// Package prompt assembles the system and user prompts sent to the LLM
// each cycle, from market data, ledger state, trade/decision history, and
// operator guidance.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// indicatorOrder is the enumerated, stable rendering order for per-coin
// indicator series.
var indicatorOrder = []string{
	"EMA20", "EMA50", "RSI7", "RSI14", "MACD", "MACD_signal", "MACD_hist",
	"ATR3", "ATR14", "volume", "volume_sma20",
}

// Config is the session-wide, mostly-static context every prompt needs.
type Config struct {
	ExchangeName       string
	AssetClass         string
	MinPositionSizeUSD float64
	MaxLeverage        float64
	PresetName         string
}

// CoinSnapshot is one coin's current price plus its last N rows (N=10..15,
// oldest→newest) of each enumerated indicator.
type CoinSnapshot struct {
	Coin         string
	CurrentPrice float64
	Indicators   map[string][]float64
}

// PositionView is an open position as rendered to the LLM.
type PositionView struct {
	Coin          string
	Side          string
	EntryPrice    float64
	CurrentPrice  float64
	QuantityUSD   float64
	Leverage      float64
	UnrealizedPnL float64
	EntryTime     *time.Time
	ProfitTarget  *float64
	StopLoss      *float64
}

// TradeHistoryEntry is a closed position summarized for the history section.
type TradeHistoryEntry struct {
	Coin        string
	Side        string
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
}

// DecisionSummary is a recent decision summarized for the history section.
type DecisionSummary struct {
	Coin          string
	Signal        string
	Confidence    float64
	Justification string
}

// AccountState is the ledger's view as rendered to the LLM.
type AccountState struct {
	AvailableCash   float64
	TotalValue      float64
	ReturnPct       float64
	Sharpe          *float64
	Positions       []PositionView
	TradeHistory    []TradeHistoryEntry
	RecentDecisions []DecisionSummary
	MaxPositions    int
}

// Builder builds prompts for a fixed Config (one preset, one set of
// operational constraints) across many cycles.
type Builder struct {
	Config Config
}

// New constructs a Builder.
func New(cfg Config) *Builder { return &Builder{Config: cfg} }

// ListPresets returns every available preset (for the read-only
// introspection API).
func (b *Builder) ListPresets() []Preset {
	names := ListPresetNames()
	out := make([]Preset, 0, len(names))
	for _, n := range names {
		p, _ := GetPreset(n)
		out = append(out, p)
	}
	return out
}

// RenderPreset returns one preset's content by name.
func (b *Builder) RenderPreset(name string) (Preset, error) {
	return GetPreset(name)
}

// BuildSystemPrompt renders the system prompt for the configured preset.
func (b *Builder) BuildSystemPrompt() (string, error) {
	preset, err := GetPreset(b.Config.PresetName)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an autonomous perpetual-futures trading agent operating on the %s exchange.\n\n", b.Config.ExchangeName)
	sb.WriteString("Your goal is to grow account equity while managing risk within the constraints below. You have been given real capital to trade.\n\n")
	sb.WriteString("## Operational Constraints (CRITICAL)\n")
	fmt.Fprintf(&sb, "- Minimum position size: $%.2f USD (trades below this will fail).\n", b.Config.MinPositionSizeUSD)
	fmt.Fprintf(&sb, "- Maximum leverage: %.1fx (do not exceed unless the strategy below says otherwise).\n", b.Config.MaxLeverage)
	fmt.Fprintf(&sb, "- Asset class: %s.\n\n", b.Config.AssetClass)

	sb.WriteString(preset.StrategySection + "\n")
	sb.WriteString(preset.SizingRules + "\n")
	sb.WriteString(preset.RiskRules + "\n")
	sb.WriteString(preset.ExitRules + "\n")

	sb.WriteString("## Learning from Trade History\n\n")
	sb.WriteString("You will receive your recent trade history and recent decisions in every prompt. Identify what setups lose money, replicate what wins, and do not repeat a mistake you have already made twice.\n\n")

	sb.WriteString("## Output Format\n")
	sb.WriteString("Return valid JSON with these exact fields:\n")
	sb.WriteString(`{
  "coin": "BTC/USDC:USDC",
  "signal": "buy_to_enter|sell_to_enter|hold|close",
  "quantity_usd": 50.0,
  "leverage": 2.0,
  "confidence": 0.75,
  "exit_plan": {
    "profit_target": 0.0,
    "stop_loss": 0.0,
    "invalidation_condition": "reason text"
  },
  "justification": "clear technical reasoning"
}` + "\n\n")
	sb.WriteString("Use the exact symbol format from the market data section. Do not shorten it.\n")
	sb.WriteString("Data provided below is ordered oldest -> newest.\n")

	return sb.String(), nil
}

// BuildUserPrompt assembles the per-cycle context.
func (b *Builder) BuildUserPrompt(minutesSinceStart int, operatorGuidance string, leverageLimits map[string]float64, coins []CoinSnapshot, account AccountState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Trading session duration: %d minutes.\n", minutesSinceStart)
	sb.WriteString("Analyze the provided state data and predictive signals.\n")
	fmt.Fprintf(&sb, "Reminder: minimum order size is $%.2f.\n", b.Config.MinPositionSizeUSD)

	if len(leverageLimits) > 0 {
		sb.WriteString("\nLeverage limits per asset:\n")
		symbols := make([]string, 0, len(leverageLimits))
		for s := range leverageLimits {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			fmt.Fprintf(&sb, "  - %s: max %.1fx leverage\n", s, leverageLimits[s])
		}
	}
	sb.WriteString("\n")

	if strings.TrimSpace(operatorGuidance) != "" {
		sb.WriteString("!!! OPERATOR GUIDANCE (HIGH PRIORITY) !!!\n")
		fmt.Fprintf(&sb, "The operator has provided the following instruction: %q\n", operatorGuidance)
		sb.WriteString("You must consider this in your decision; it takes priority within safety limits.\n\n")
	}

	writePositionCapacitySection(&sb, account)

	sb.WriteString("---\n\n### CURRENT MARKET DATA\n\n")
	for _, coin := range coins {
		writeCoinSection(&sb, coin)
	}

	writeAccountSection(&sb, account)

	sb.WriteString("---\n\nBased on this data, make your trading decision. Ensure all constraints are met. Return valid JSON only.\n")

	return sb.String()
}

func writePositionCapacitySection(sb *strings.Builder, account AccountState) {
	if len(account.Positions) == 0 {
		return
	}
	maxPositions := account.MaxPositions
	if maxPositions <= 0 {
		maxPositions = len(account.Positions)
	}

	sb.WriteString("!!! POSITION MANAGEMENT FOCUS !!!\n")
	fmt.Fprintf(sb, "You currently have %d of %d open position(s):\n", len(account.Positions), maxPositions)
	for _, p := range account.Positions {
		fmt.Fprintf(sb, "  - %s: %s @ $%.2f, size: $%.2f, leverage: %.1fx\n", p.Coin, strings.ToUpper(p.Side), p.EntryPrice, p.QuantityUSD, p.Leverage)
	}
	sb.WriteString("\n")

	if len(account.Positions) >= maxPositions {
		fmt.Fprintf(sb, "POSITION LIMIT REACHED (%d/%d). You cannot open new positions until one closes.\n", len(account.Positions), maxPositions)
		sb.WriteString("Do not choose buy_to_enter or sell_to_enter; only hold or close.\n\n")
	} else {
		fmt.Fprintf(sb, "Position capacity: %d/%d slots used. New positions in different coins are encouraged for diversification.\n\n", len(account.Positions), maxPositions)
	}
}

func writeCoinSection(sb *strings.Builder, coin CoinSnapshot) {
	fmt.Fprintf(sb, "### %s DATA\n\n", coin.Coin)
	fmt.Fprintf(sb, "current_price = %.2f\n\n", coin.CurrentPrice)
	sb.WriteString("Intraday series (oldest -> newest):\n\n")
	for _, name := range indicatorOrder {
		series, ok := coin.Indicators[name]
		if !ok || len(series) == 0 {
			continue
		}
		fmt.Fprintf(sb, "%s: %s\n", name, formatSeries(series))
	}
	sb.WriteString("\n---\n\n")
}

func formatSeries(series []float64) string {
	parts := make([]string, len(series))
	for i, v := range series {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func writeAccountSection(sb *strings.Builder, account AccountState) {
	sb.WriteString("### ACCOUNT INFORMATION & PERFORMANCE\n\n")
	fmt.Fprintf(sb, "Current total return: %.2f%%\n", account.ReturnPct)
	fmt.Fprintf(sb, "Available cash: $%.2f\n", account.AvailableCash)
	fmt.Fprintf(sb, "Total account value: $%.2f\n\n", account.TotalValue)

	if len(account.Positions) > 0 {
		sb.WriteString("CURRENT OPEN POSITIONS:\n\n")
		for _, p := range account.Positions {
			fmt.Fprintf(sb, "Position: %s (%s)\n", p.Coin, strings.ToUpper(p.Side))
			fmt.Fprintf(sb, "  Entry: $%.2f | Current: $%.2f\n", p.EntryPrice, p.CurrentPrice)
			fmt.Fprintf(sb, "  Size: $%.2f (lev: %.1fx)\n", p.QuantityUSD, p.Leverage)
			fmt.Fprintf(sb, "  Unrealized P&L: $%+.2f\n", p.UnrealizedPnL)
			if p.EntryTime != nil {
				sb.WriteString("  Time open: " + time.Since(*p.EntryTime).Round(time.Minute).String() + "\n")
			}
			if p.ProfitTarget != nil || p.StopLoss != nil {
				sb.WriteString("  Exit plan:\n")
				if p.ProfitTarget != nil {
					fmt.Fprintf(sb, "    - Target: $%.2f\n", *p.ProfitTarget)
				}
				if p.StopLoss != nil {
					fmt.Fprintf(sb, "    - Stop: $%.2f\n", *p.StopLoss)
				}
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("No active positions.\n\n")
	}

	if account.Sharpe != nil {
		fmt.Fprintf(sb, "Risk metric (Sharpe): %.3f\n\n", *account.Sharpe)
	}

	if len(account.TradeHistory) > 0 {
		sb.WriteString("RECENT TRADE HISTORY (last 10 closed positions):\n\n")
		for _, t := range account.TradeHistory {
			fmt.Fprintf(sb, "  %s (%s) - entry: $%.2f -> exit: $%.2f | P&L: $%+.2f\n", t.Coin, t.Side, t.EntryPrice, t.ExitPrice, t.RealizedPnL)
		}
		sb.WriteString("\n")
	}

	if len(account.RecentDecisions) > 0 {
		sb.WriteString("YOUR RECENT DECISIONS (last 5):\n\n")
		for _, d := range account.RecentDecisions {
			justification := d.Justification
			if len(justification) > 80 {
				justification = justification[:80]
			}
			fmt.Fprintf(sb, "  %s - %s (confidence: %.0f%%)\n    Reason: %s\n", d.Coin, strings.ToUpper(d.Signal), d.Confidence*100, justification)
		}
		sb.WriteString("\n")
	}
}

// SampleUserPrompt renders a representative user prompt from fixed sample
// data, backing the read-only /api/prompt_presets/sample_user_prompt
// endpoint.
func (b *Builder) SampleUserPrompt() string {
	sample := []CoinSnapshot{{
		Coin:         "BTC/USDC:USDC",
		CurrentPrice: 100000,
		Indicators: map[string][]float64{
			"EMA20": {99500, 99700, 99900, 100100},
			"RSI14": {48, 52, 55, 51},
			"MACD":  {-10, -5, 2, 6},
		},
	}}
	account := AccountState{
		AvailableCash: 1000,
		TotalValue:    1000,
		MaxPositions:  3,
	}
	return b.BuildUserPrompt(15, "", map[string]float64{"BTC/USDC:USDC": 20}, sample, account)
}
