// Package decision extracts and validates a trading decision from raw
// LLM text, producing a Parsed value or a typed error.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"futuresagent/internal/store"
)

// ErrEmptyResponse is returned when the raw text is empty.
var ErrEmptyResponse = errors.New("decision: empty response")

// ErrNoJSON is returned when no JSON object could be extracted.
var ErrNoJSON = errors.New("decision: could not extract JSON from response")

// ErrInvalidSchema wraps a field-level validation failure.
type ErrInvalidSchema struct {
	Field  string
	Reason string
}

func (e *ErrInvalidSchema) Error() string {
	return fmt.Sprintf("decision: invalid %s: %s", e.Field, e.Reason)
}

// ErrLeverageExceedsCap is returned when a coin's configured leverage cap
// is exceeded. The parser's policy is reject, never clamp.
type ErrLeverageExceedsCap struct {
	Coin     string
	Leverage float64
	Cap      float64
}

func (e *ErrLeverageExceedsCap) Error() string {
	return fmt.Sprintf("decision: leverage %.1fx for %s exceeds cap %.1fx", e.Leverage, e.Coin, e.Cap)
}

// maxQuantityUSD is the hard sanity cap on any single decision's size.
const maxQuantityUSD = 1_000_000

// globalMaxLeverage bounds leverage regardless of any per-coin cap.
const globalMaxLeverage = 20

var fencedJSONBlock = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")
var bareJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// rawDecision is the wire shape the LLM is expected to emit.
type rawDecision struct {
	Coin          string   `json:"coin"`
	Signal        string   `json:"signal"`
	QuantityUSD   float64  `json:"quantity_usd"`
	Leverage      float64  `json:"leverage"`
	Confidence    float64  `json:"confidence"`
	Justification string   `json:"justification"`
	ExitPlan      exitPlan `json:"exit_plan"`
}

type exitPlan struct {
	ProfitTarget          *float64 `json:"profit_target"`
	StopLoss              *float64 `json:"stop_loss"`
	InvalidationCondition *string  `json:"invalidation_condition"`
}

// Parsed is a validated, normalized decision ready for RiskGate.
type Parsed struct {
	Coin                  string
	Signal                store.Signal
	QuantityUSD           float64
	Leverage              float64
	Confidence            float64
	Justification         string
	ProfitTarget          *float64
	StopLoss              *float64
	InvalidationCondition *string
}

// ExtractJSON implements the three-tier extraction: direct parse, then a
// fenced ```json block, then the first {...} run.
func ExtractJSON(text string) (map[string]any, error) {
	var direct map[string]any
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		return direct, nil
	}

	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var fenced map[string]any
		if err := json.Unmarshal([]byte(m[1]), &fenced); err == nil {
			return fenced, nil
		}
	}

	if m := bareJSONObject.FindString(text); m != "" {
		var bare map[string]any
		if err := json.Unmarshal([]byte(m), &bare); err == nil {
			return bare, nil
		}
	}

	return nil, ErrNoJSON
}

// Parse extracts, validates, normalizes, and enforces invariants on raw
// LLM text. leverageLimits maps coin -> max leverage; a missing entry
// means no per-coin cap beyond globalMaxLeverage.
func Parse(text string, leverageLimits map[string]float64) (*Parsed, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	fields, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	raw, err := decodeRaw(fields)
	if err != nil {
		return nil, err
	}

	return validateAndNormalize(raw, leverageLimits)
}

func decodeRaw(fields map[string]any) (*rawDecision, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, &ErrInvalidSchema{Field: "root", Reason: err.Error()}
	}
	var raw rawDecision
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return nil, &ErrInvalidSchema{Field: "root", Reason: err.Error()}
	}
	return &raw, nil
}

func validateAndNormalize(raw *rawDecision, leverageLimits map[string]float64) (*Parsed, error) {
	if len(raw.Coin) < 3 {
		return nil, &ErrInvalidSchema{Field: "coin", Reason: "symbol too short"}
	}
	coin := strings.ToUpper(raw.Coin)

	signal, err := normalizeSignal(raw.Signal)
	if err != nil {
		return nil, err
	}

	if raw.QuantityUSD < 0 || raw.QuantityUSD > maxQuantityUSD {
		return nil, &ErrInvalidSchema{Field: "quantity_usd", Reason: "out of range [0, 1e6]"}
	}

	if raw.Leverage < 0 || raw.Leverage > globalMaxLeverage {
		return nil, &ErrInvalidSchema{Field: "leverage", Reason: "out of range [0, 20]"}
	}

	isEntry := signal == store.SignalBuyToEnter || signal == store.SignalSellToEnter
	if isEntry && raw.Leverage <= 0 {
		return nil, &ErrInvalidSchema{Field: "leverage", Reason: "must be > 0 for entry signals"}
	}

	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, &ErrInvalidSchema{Field: "confidence", Reason: "out of range [0, 1]"}
	}

	if len(strings.TrimSpace(raw.Justification)) < 10 {
		return nil, &ErrInvalidSchema{Field: "justification", Reason: "must be at least 10 characters"}
	}

	if err := validateExitOrdering(signal, raw.ExitPlan); err != nil {
		return nil, err
	}

	if isEntry {
		if cap, ok := leverageLimits[coin]; ok && raw.Leverage > cap {
			return nil, &ErrLeverageExceedsCap{Coin: coin, Leverage: raw.Leverage, Cap: cap}
		}
	}

	return &Parsed{
		Coin:                  coin,
		Signal:                signal,
		QuantityUSD:           raw.QuantityUSD,
		Leverage:              raw.Leverage,
		Confidence:            raw.Confidence,
		Justification:         raw.Justification,
		ProfitTarget:          raw.ExitPlan.ProfitTarget,
		StopLoss:              raw.ExitPlan.StopLoss,
		InvalidationCondition: raw.ExitPlan.InvalidationCondition,
	}, nil
}

func normalizeSignal(s string) (store.Signal, error) {
	switch store.Signal(strings.ToLower(strings.TrimSpace(s))) {
	case store.SignalBuyToEnter:
		return store.SignalBuyToEnter, nil
	case store.SignalSellToEnter:
		return store.SignalSellToEnter, nil
	case store.SignalHold:
		return store.SignalHold, nil
	case store.SignalClose:
		return store.SignalClose, nil
	default:
		return "", &ErrInvalidSchema{Field: "signal", Reason: fmt.Sprintf("unknown signal %q", s)}
	}
}

// validateExitOrdering enforces stop_loss < profit_target for longs and the
// inverse for shorts, but only when both fields are present and nonzero —
// a zero/absent exit plan (as on hold decisions) is not an ordering error.
func validateExitOrdering(signal store.Signal, plan exitPlan) error {
	if plan.StopLoss == nil || plan.ProfitTarget == nil {
		return nil
	}
	stop, target := *plan.StopLoss, *plan.ProfitTarget
	if stop == 0 || target == 0 {
		return nil
	}

	switch signal {
	case store.SignalBuyToEnter:
		if stop >= target {
			return &ErrInvalidSchema{Field: "exit_plan", Reason: "stop_loss must be below profit_target for long entries"}
		}
	case store.SignalSellToEnter:
		if stop <= target {
			return &ErrInvalidSchema{Field: "exit_plan", Reason: "stop_loss must be above profit_target for short entries"}
		}
	}
	return nil
}
