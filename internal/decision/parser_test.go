package decision

import (
	"errors"
	"testing"
)

const validJSON = `{
	"coin": "btc/usd:usd",
	"signal": "buy_to_enter",
	"quantity_usd": 50.0,
	"leverage": 2.0,
	"confidence": 0.75,
	"exit_plan": {
		"profit_target": 111000.0,
		"stop_loss": 106361.0,
		"invalidation_condition": "4H RSI breaks below 40"
	},
	"justification": "breaking above consolidation with strong momentum"
}`

func TestParseDirectJSON(t *testing.T) {
	p, err := Parse(validJSON, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Coin != "BTC/USD:USD" {
		t.Errorf("coin = %q, want uppercased", p.Coin)
	}
	if p.Leverage != 2.0 {
		t.Errorf("leverage = %v, want 2.0", p.Leverage)
	}
}

func TestParseFencedMarkdownBlock(t *testing.T) {
	wrapped := "Here's my decision:\n\n```json\n" + `{
		"coin": "ETH/USD:USD",
		"signal": "hold",
		"quantity_usd": 0,
		"leverage": 0,
		"confidence": 0.5,
		"exit_plan": {},
		"justification": "waiting for a clearer signal"
	}` + "\n```\n\nLet me know if you need more.\n"

	p, err := Parse(wrapped, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Signal != "hold" {
		t.Errorf("signal = %q, want hold", p.Signal)
	}
}

func TestParseBareObjectAmongText(t *testing.T) {
	text := "I think we should hold. " + `{"coin":"SOL/USD:USD","signal":"hold","quantity_usd":0,"leverage":0,"confidence":0.4,"exit_plan":{},"justification":"mixed signals currently"}` + " That's my call."
	p, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Coin != "SOL/USD:USD" {
		t.Errorf("coin = %q", p.Coin)
	}
}

func TestParseInvalidTextReturnsNoJSON(t *testing.T) {
	_, err := Parse("this is not JSON at all!", nil)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestParseEmptyResponse(t *testing.T) {
	_, err := Parse("", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestParseMissingRequiredFieldFails(t *testing.T) {
	incomplete := `{"coin":"SOL/USD:USD","signal":"buy_to_enter"}`
	_, err := Parse(incomplete, nil)
	if err == nil {
		t.Fatalf("expected an error for incomplete decision")
	}
}

func TestParseEntryWithZeroLeverageRejected(t *testing.T) {
	text := `{"coin":"BTC/USD:USD","signal":"buy_to_enter","quantity_usd":50,"leverage":0,"confidence":0.5,"exit_plan":{},"justification":"test entry with no leverage"}`
	_, err := Parse(text, nil)
	var schemaErr *ErrInvalidSchema
	if !errors.As(err, &schemaErr) || schemaErr.Field != "leverage" {
		t.Fatalf("expected leverage schema error, got %v", err)
	}
}

func TestParseLongStopLossAboveTargetRejected(t *testing.T) {
	text := `{"coin":"BTC/USD:USD","signal":"buy_to_enter","quantity_usd":50,"leverage":2,"confidence":0.5,
		"exit_plan":{"profit_target":100,"stop_loss":200},"justification":"bad ordering for a long entry"}`
	_, err := Parse(text, nil)
	if err == nil {
		t.Fatalf("expected an ordering error")
	}
}

func TestParseShortStopLossBelowTargetRejected(t *testing.T) {
	text := `{"coin":"BTC/USD:USD","signal":"sell_to_enter","quantity_usd":50,"leverage":2,"confidence":0.5,
		"exit_plan":{"profit_target":200,"stop_loss":100},"justification":"bad ordering for a short entry"}`
	_, err := Parse(text, nil)
	if err == nil {
		t.Fatalf("expected an ordering error")
	}
}

func TestParseHoldWithZeroExitPlanIsFine(t *testing.T) {
	text := `{"coin":"ETH/USD:USD","signal":"hold","quantity_usd":0,"leverage":0,"confidence":0.5,
		"exit_plan":{"profit_target":0,"stop_loss":0},"justification":"zero exit plan on hold is not an ordering error"}`
	if _, err := Parse(text, nil); err != nil {
		t.Fatalf("expected zero exit-plan fields to be accepted on hold, got %v", err)
	}
}

func TestParseLeverageExceedsCoinCapRejected(t *testing.T) {
	text := `{"coin":"BTC/USD:USD","signal":"buy_to_enter","quantity_usd":50,"leverage":10,"confidence":0.5,
		"exit_plan":{},"justification":"leverage above this coin's configured cap"}`
	_, err := Parse(text, map[string]float64{"BTC/USD:USD": 5})
	var capErr *ErrLeverageExceedsCap
	if !errors.As(err, &capErr) {
		t.Fatalf("expected ErrLeverageExceedsCap, got %v", err)
	}
}

func TestParseQuantityAboveHardCapRejected(t *testing.T) {
	text := `{"coin":"BTC/USD:USD","signal":"buy_to_enter","quantity_usd":2000000,"leverage":2,"confidence":0.5,
		"exit_plan":{},"justification":"quantity above the one million hard cap"}`
	_, err := Parse(text, nil)
	if err == nil {
		t.Fatalf("expected a quantity range error")
	}
}
