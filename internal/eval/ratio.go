package eval

import "math"

// ErrorRatio calculates errors/total. It reports false when there was no
// traffic. Errors are clamped to [0, total] since rate extrapolation can
// slightly overshoot.
func ErrorRatio(errors, total float64) (float64, bool) {
	if !(total > 0) {
		return 0, false
	}
	if errors < 0 {
		errors = 0
	}
	if errors > total {
		errors = total
	}
	return errors / total, true
}

// AllowedRatio is the error ratio the objective tolerates: 1 - target.
func AllowedRatio(target float64) float64 {
	return 1 - target
}

// ComputeBurnRate calculates the burn rate from error ratio and target
// burn_rate = error_ratio / (1 - target)
func ComputeBurnRate(errorRatio, target float64) float64 {
	allowed := AllowedRatio(target)
	if allowed <= 0 {
		return 0
	}
	return errorRatio / allowed
}

// ComputeBudgetRemaining calculates the remaining error budget
// remaining = 1 - error_ratio / (1 - target)
// The value is not clamped: below 0 the budget is overspent, above 1 is not
// possible for non-negative ratios.
func ComputeBudgetRemaining(errorRatio, target float64) float64 {
	return 1 - ComputeBurnRate(errorRatio, target)
}

// ClampBudget limits a remaining budget to [0, 1] for display.
func ClampBudget(remaining float64) float64 {
	return math.Max(0, math.Min(1, remaining))
}

// relTolerance is how close, relative to the threshold, a burn rate may be
// and still count as equal to it.
const relTolerance = 1e-9

// Exceeds reports whether rate is strictly above threshold. Rates within
// relTolerance of the threshold are treated as equal, so floating point noise
// from the division never makes a rung fire at exactly its threshold.
func Exceeds(rate, threshold float64) bool {
	return rate-threshold > relTolerance*math.Max(1, math.Abs(threshold))
}
