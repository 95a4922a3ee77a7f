package monitor

import "futuresagent/internal/risk"

// RuleEvaluator turns a risk.Result into an alert, if any.
type RuleEvaluator struct{}

// Check returns (true, reason) when result was rejected.
func (r *RuleEvaluator) Check(result risk.Result) (bool, string) {
	if !result.OK && result.Reason != "" {
		return true, result.Reason
	}
	return false, ""
}
