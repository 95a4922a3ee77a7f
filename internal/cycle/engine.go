// Package cycle drives the fixed-cadence loop that ties every other
// component together: it reads market state, consults an LLM, validates the
// proposal, executes it, and persists every step.
package cycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"futuresagent/internal/cache"
	"futuresagent/internal/decision"
	"futuresagent/internal/events"
	"futuresagent/internal/exchange"
	"futuresagent/internal/ledger"
	"futuresagent/internal/llm"
	"futuresagent/internal/prompt"
	"futuresagent/internal/risk"
	"futuresagent/internal/store"

	"github.com/google/uuid"
)

// MarketDataProvider is the external collaborator that fetches OHLCV and
// computes indicators for one coin. Indicator math and OHLCV retrieval
// themselves are out of scope here; only the interface is owned.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, coin string) (prompt.CoinSnapshot, error)
}

const pollInterval = 100 * time.Millisecond

// Engine is the single-threaded cycle loop. It holds transient references
// to its collaborators; Store and Ledger are the only shared mutable state.
type Engine struct {
	Store        *store.Store
	Ledger       *ledger.Ledger
	Adapter      exchange.Adapter
	PromptBuild  *prompt.Builder
	Completer    llm.Completer
	MarketData   MarketDataProvider
	Token        *ControlToken
	StatusFn     func(status, message, errMsg string)

	// LeverageCache holds each coin's max-leverage for the duration of one
	// cycle so runCycle's two lookups (building the leverage table, then
	// validating the decided coin) never call the adapter twice; it is
	// invalidated at the top of every cycle rather than carried across them
	// (§9 design note: cache per cycle, not per decision parse).
	LeverageCache *cache.LeverageCache

	// Bus is optional: when set, runCycle publishes decision/position/risk
	// topics for out-of-process observers (e.g. internal/monitor's risk
	// alerting). A nil Bus disables publishing entirely.
	Bus *events.Bus

	cycleStart time.Time
}

// New constructs an Engine. cycleStart anchors the "minutes since start"
// figure PromptBuilder puts in every user prompt.
func New(s *store.Store, l *ledger.Ledger, adapter exchange.Adapter, builder *prompt.Builder, completer llm.Completer, md MarketDataProvider, token *ControlToken) *Engine {
	return &Engine{
		Store:         s,
		Ledger:        l,
		Adapter:       adapter,
		PromptBuild:   builder,
		Completer:     completer,
		MarketData:    md,
		Token:         token,
		LeverageCache: cache.NewLeverageCache(time.Minute),
		cycleStart:    time.Now(),
	}
}

// maxLeverage reads a coin's max leverage from the per-cycle cache,
// populating it from the adapter on first use within the cycle.
func (e *Engine) maxLeverage(coin string) float64 {
	if e.LeverageCache == nil {
		return float64(e.Adapter.MaxLeverage(coin))
	}
	if v, ok := e.LeverageCache.Get(coin); ok {
		return v
	}
	v := float64(e.Adapter.MaxLeverage(coin))
	e.LeverageCache.Set(coin, v)
	return v
}

// Run executes cycles until the control token reaches stopped or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.Token.Stop()
			return nil
		default:
		}

		switch e.Token.Read() {
		case StateStopped:
			return nil
		case StatePaused:
			e.appendStatus(ctx, "paused", "waiting for resume", "")
			if !e.waitWhile(ctx, StatePaused) {
				return nil
			}
		case StateRunning:
			settings, err := LoadSettings(ctx, e.Store)
			if err != nil {
				log.Printf("[CYCLE] load settings: %v", err)
				settings = defaultSettings()
			}
			e.runCycle(ctx, settings)

			next := time.Now().Add(settings.Interval)
			e.Store.SetSetting(ctx, keyNextCycleTime, next.UTC().Format(time.RFC3339))
			if !e.sleepUntil(ctx, next) {
				return nil
			}
		default:
			return nil
		}
	}
}

// waitWhile polls the token every pollInterval until it leaves state s.
// Returns false if the loop should terminate (stopped or ctx cancelled).
func (e *Engine) waitWhile(ctx context.Context, s State) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			switch e.Token.Read() {
			case StateStopped:
				return false
			case s:
				continue
			default:
				return true
			}
		}
	}
}

// sleepUntil polls the token every pollInterval until deadline, returning
// early (true) if the token flips away from running, or false if it should
// stop entirely.
func (e *Engine) sleepUntil(ctx context.Context, deadline time.Time) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			switch e.Token.Read() {
			case StateStopped:
				return false
			case StatePaused:
				return true
			}
			if time.Now().After(deadline) || time.Now().Equal(deadline) {
				return true
			}
		}
	}
}

// runCycle executes one full iteration of the 15-step cycle algorithm.
// Every in-cycle error is caught here, recorded as a status event, and the
// cycle returns cleanly rather than propagating — the engine always lives
// to try again next interval.
func (e *Engine) runCycle(ctx context.Context, settings Settings) {
	if e.LeverageCache != nil {
		e.LeverageCache.Invalidate()
	}

	// 2. Account state + union coin set.
	account, err := e.Adapter.AccountState(ctx)
	if err != nil {
		e.appendStatus(ctx, "error", "account state query failed", err.Error())
		return
	}
	coins := unionCoins(settings.PrimaryCoin, account.Positions)

	// 3. Market data per coin.
	snapshots := make(map[string]prompt.CoinSnapshot, len(coins))
	prices := make(map[string]float64, len(coins))
	for _, coin := range coins {
		snap, err := e.MarketData.Snapshot(ctx, coin)
		if err != nil {
			e.appendStatus(ctx, "error", fmt.Sprintf("market data fetch failed for %s", coin), err.Error())
			return
		}
		snapshots[coin] = snap
		prices[coin] = snap.CurrentPrice
	}

	// 4. Pre-flight balance check.
	if account.Balance < settings.MinBalanceThresholdUSD && len(account.Positions) == 0 {
		e.appendStatus(ctx, "paused", "insufficient balance", "")
		return
	}

	// 5. Recompute with current prices; run liquidation check if paper.
	if setter, ok := e.Adapter.(exchange.PriceSetter); ok {
		setter.SetPrices(prices)
	}
	if e.Ledger != nil {
		if _, err := e.Ledger.CheckLiquidation(ctx, prices); err != nil {
			log.Printf("[CYCLE] liquidation check: %v", err)
		}
	}
	account, err = e.Adapter.AccountState(ctx)
	if err != nil {
		e.appendStatus(ctx, "error", "account state re-query failed", err.Error())
		return
	}

	// 6. History view.
	closed, _ := e.Store.ClosedPositions(ctx, 10)
	recentDecisions, _ := e.Store.RecentDecisions(ctx, 5)
	var sharpe *float64
	if e.Ledger != nil {
		sharpe = e.Ledger.Sharpe()
	}

	// 7. Operator guidance + leverage table.
	guidance := ""
	if active, err := e.Store.GetActiveOperatorInput(ctx); err == nil && active != nil && active.MessageType == "cycle" {
		guidance = active.Message
	}
	leverageLimits := make(map[string]float64, len(coins))
	for _, coin := range coins {
		leverageLimits[coin] = e.maxLeverage(coin)
	}

	// 8. Build prompts.
	systemPrompt, err := e.PromptBuild.BuildSystemPrompt()
	if err != nil {
		e.appendStatus(ctx, "error", "system prompt build failed", err.Error())
		return
	}
	minutesSinceStart := int(time.Since(e.cycleStart).Minutes())
	accountState := toPromptAccountState(account, closed, recentDecisions, sharpe, settings.MaxOpenPositions)
	coinList := make([]prompt.CoinSnapshot, 0, len(snapshots))
	for _, coin := range coins {
		coinList = append(coinList, snapshots[coin])
	}
	userPrompt := e.PromptBuild.BuildUserPrompt(minutesSinceStart, guidance, leverageLimits, coinList, accountState)

	// 9. Call LLM.
	raw, err := e.Completer.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		e.appendStatus(ctx, "error", "LLM completion failed", err.Error())
		return
	}

	// 10. Parse decision.
	parsed, err := decision.Parse(raw, leverageLimits)
	if err != nil {
		e.appendStatus(ctx, "error", "decision parse failed", err.Error())
		return
	}

	// 11. Hold: populate displayed quantity/leverage from matching position.
	if parsed.Signal == store.SignalHold {
		if pos, ok := findPosition(account.Positions, parsed.Coin); ok {
			parsed.QuantityUSD = pos.QuantityUSD
			parsed.Leverage = pos.Leverage
		}
	}

	// 12. Append decision.
	decisionID, err := e.Store.AppendDecision(ctx, store.Decision{
		Timestamp:             time.Now().UTC(),
		Coin:                  parsed.Coin,
		Signal:                parsed.Signal,
		QuantityUSD:           parsed.QuantityUSD,
		Leverage:              parsed.Leverage,
		Confidence:            parsed.Confidence,
		ProfitTarget:          parsed.ProfitTarget,
		StopLoss:              parsed.StopLoss,
		InvalidationCondition: parsed.InvalidationCondition,
		Justification:         parsed.Justification,
		RawResponse:           raw,
		SystemPrompt:          systemPrompt,
		UserPrompt:            userPrompt,
		ExecutionStatus:       store.ExecPending,
	})
	if err != nil {
		e.appendStatus(ctx, "error", "append decision failed", err.Error())
		return
	}
	e.publish(events.EventDecisionParsed, parsed)

	// 13. Validate via RiskGate.
	dailyPnL, _ := e.Store.DailyRealizedPnL(ctx, time.Now().UTC())
	currentPrice := prices[parsed.Coin]
	maxLev := e.maxLeverage(parsed.Coin)
	lv := accountStateView{balance: account.Balance, positions: account.Positions}
	result := risk.Validate(risk.Decision{
		Coin:         parsed.Coin,
		Signal:       parsed.Signal,
		QuantityUSD:  parsed.QuantityUSD,
		Leverage:     parsed.Leverage,
		StopLoss:     parsed.StopLoss,
		ProfitTarget: parsed.ProfitTarget,
	}, currentPrice, maxLev, lv, settings.Settings, dailyPnL)

	if !result.OK {
		e.Store.SetDecisionExecution(ctx, decisionID, store.ExecSkipped, strPtr(result.Reason))
		e.appendStatus(ctx, "running", fmt.Sprintf("skipped %s for %s: %s", parsed.Signal, parsed.Coin, result.Reason), "")
		e.publish(events.EventRiskRejected, result)
		return
	}
	for _, advisory := range result.Advisories {
		log.Printf("[RISK] advisory: %s", advisory)
	}

	// 14. Execute.
	execErr := e.execute(ctx, parsed, currentPrice, decisionID)
	if execErr != nil {
		e.Store.SetDecisionExecution(ctx, decisionID, store.ExecFailed, strPtr(execErr.Error()))
		e.appendStatus(ctx, "error", fmt.Sprintf("execution failed for %s", parsed.Coin), execErr.Error())
		return
	}
	e.Store.SetDecisionExecution(ctx, decisionID, store.ExecSuccess, nil)
	e.publish(events.EventDecisionExecuted, parsed)
	switch parsed.Signal {
	case store.SignalBuyToEnter, store.SignalSellToEnter:
		e.publish(events.EventPositionOpened, parsed.Coin)
	case store.SignalClose:
		e.publish(events.EventPositionClosed, parsed.Coin)
	}

	// 15. Snapshot + status.
	e.appendAccountSnapshot(ctx, account, sharpe)
	e.appendStatus(ctx, "running", fmt.Sprintf("executed %s for %s", parsed.Signal, parsed.Coin), "")
}

// publish is a no-op when Bus is unset so CycleEngine never requires an
// event bus to run.
func (e *Engine) publish(topic events.Event, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(topic, payload)
	}
}

// execute submits a decision's signal to the adapter and, for live fills,
// records the resulting Position in Store directly — the paper backend
// already does this itself by delegating to Ledger, which mirrors every
// mutation through to Store, but LiveAdapter only talks to the remote
// venue and has no Store of its own.
func (e *Engine) execute(ctx context.Context, parsed *decision.Parsed, currentPrice float64, decisionID int64) error {
	switch parsed.Signal {
	case store.SignalHold:
		return nil
	case store.SignalClose:
		result, err := e.Adapter.Close(ctx, parsed.Coin)
		if err != nil {
			return err
		}
		if result.Status != exchange.CloseFilled {
			return fmt.Errorf("close rejected: %s", result.Error)
		}
		if e.Ledger == nil {
			e.recordLiveClose(ctx, parsed.Coin, currentPrice)
		}
		return nil
	case store.SignalBuyToEnter, store.SignalSellToEnter:
		isBuy := parsed.Signal == store.SignalBuyToEnter
		result, err := e.Adapter.Open(ctx, parsed.Coin, isBuy, parsed.QuantityUSD, currentPrice, parsed.Leverage, 0.005, decisionID)
		if err != nil {
			return err
		}
		if result.Status != exchange.OpenFilled {
			return fmt.Errorf("open rejected: %s", result.Error)
		}
		if e.Ledger == nil {
			side := "short"
			if isBuy {
				side = "long"
			}
			e.recordLiveOpen(ctx, parsed.Coin, side, result.FillPrice, parsed.QuantityUSD, parsed.Leverage, decisionID)
		}
		return nil
	default:
		return fmt.Errorf("unknown signal %q", parsed.Signal)
	}
}

// recordLiveOpen inserts a fresh Position row for a live fill, mirroring
// what Ledger.Open does for paper positions.
func (e *Engine) recordLiveOpen(ctx context.Context, coin, side string, entryPrice, quantityUSD, leverage float64, decisionID int64) {
	positionID := fmt.Sprintf("%s_%s_%s", coin, time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	did := decisionID
	if err := e.Store.AppendPositionEntry(ctx, positionID, coin, side, entryPrice, quantityUSD, leverage, &did); err != nil {
		log.Printf("[CYCLE] record live position entry: %v", err)
	}
}

// recordLiveClose looks up the coin's open Position row and closes it at
// exitPrice, since LiveAdapter's Close result carries no position_id of
// its own to address the row directly.
func (e *Engine) recordLiveClose(ctx context.Context, coin string, exitPrice float64) {
	positions, err := e.Store.OpenPositions(ctx)
	if err != nil {
		log.Printf("[CYCLE] load open positions for live close: %v", err)
		return
	}
	for _, p := range positions {
		if p.Coin != coin {
			continue
		}
		pnl := ledger.PnL(p.Side, p.EntryPrice, exitPrice, p.QuantityUSD, p.Leverage)
		if err := e.Store.ClosePosition(ctx, p.PositionID, exitPrice, pnl, "decision"); err != nil {
			log.Printf("[CYCLE] close live position: %v", err)
		}
		return
	}
}

func (e *Engine) appendStatus(ctx context.Context, status, message, errMsg string) {
	if err := e.Store.AppendStatus(ctx, status, message, errMsg); err != nil {
		log.Printf("[CYCLE] append status failed: %v", err)
	}
	if e.StatusFn != nil {
		e.StatusFn(status, message, errMsg)
	}
}

func (e *Engine) appendAccountSnapshot(ctx context.Context, account exchange.AccountState, sharpe *float64) {
	snap := store.AccountSnapshot{
		Timestamp:     time.Now().UTC(),
		BalanceUSD:    account.Balance,
		EquityUSD:     account.Equity,
		UnrealizedPnL: account.UnrealizedPnL,
		RealizedPnL:   account.RealizedPnL,
		TotalPnL:      account.UnrealizedPnL + account.RealizedPnL,
		SharpeRatio:   sharpe,
		NumPositions:  len(account.Positions),
	}
	if _, err := e.Store.AppendAccountSnapshot(ctx, snap); err != nil {
		log.Printf("[CYCLE] append account snapshot failed: %v", err)
	}
}

// accountStateView adapts an exchange.AccountState into risk.LedgerView so
// RiskGate sees the same freshly-queried positions the cycle just used,
// regardless of whether the adapter is paper or live.
type accountStateView struct {
	balance   float64
	positions []exchange.PositionState
}

func (v accountStateView) AvailableBalance() float64 { return v.balance }

func (v accountStateView) OpenPosition(coin string) (store.Position, bool) {
	for _, p := range v.positions {
		if p.Coin == coin {
			return toStorePosition(p), true
		}
	}
	return store.Position{}, false
}

func (v accountStateView) OpenPositions() []store.Position {
	out := make([]store.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, toStorePosition(p))
	}
	return out
}

func toStorePosition(p exchange.PositionState) store.Position {
	return store.Position{
		Coin:        p.Coin,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		QuantityUSD: p.QuantityUSD,
		Leverage:    p.Leverage,
		Status:      store.PositionOpen,
	}
}

func unionCoins(primary string, positions []exchange.PositionState) []string {
	seen := map[string]bool{primary: true}
	coins := []string{primary}
	for _, p := range positions {
		if !seen[p.Coin] {
			seen[p.Coin] = true
			coins = append(coins, p.Coin)
		}
	}
	return coins
}

func findPosition(positions []exchange.PositionState, coin string) (exchange.PositionState, bool) {
	for _, p := range positions {
		if p.Coin == coin {
			return p, true
		}
	}
	return exchange.PositionState{}, false
}

func toPromptAccountState(account exchange.AccountState, closed []store.Position, recentDecisions []store.DecisionWithPosition, sharpe *float64, maxPositions int) prompt.AccountState {
	out := prompt.AccountState{
		AvailableCash: account.Balance,
		TotalValue:    account.Equity,
		Sharpe:        sharpe,
		MaxPositions:  maxPositions,
	}
	if account.Equity > 0 {
		out.ReturnPct = (account.UnrealizedPnL + account.RealizedPnL) / account.Equity * 100
	}
	for _, p := range account.Positions {
		out.Positions = append(out.Positions, prompt.PositionView{
			Coin:          p.Coin,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			QuantityUSD:   p.QuantityUSD,
			Leverage:      p.Leverage,
			UnrealizedPnL: p.UnrealizedPnL,
			EntryTime:     p.EntryTime,
		})
	}
	for _, p := range closed {
		if p.ExitPrice == nil || p.RealizedPnL == nil {
			continue
		}
		out.TradeHistory = append(out.TradeHistory, prompt.TradeHistoryEntry{
			Coin: p.Coin, Side: p.Side, EntryPrice: p.EntryPrice, ExitPrice: *p.ExitPrice, RealizedPnL: *p.RealizedPnL,
		})
	}
	for _, d := range recentDecisions {
		out.RecentDecisions = append(out.RecentDecisions, prompt.DecisionSummary{
			Coin: d.Coin, Signal: string(d.Signal), Confidence: d.Confidence, Justification: d.Justification,
		})
	}
	return out
}

func strPtr(s string) *string { return &s }
