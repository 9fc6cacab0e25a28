package eval

import (
	"time"

	"github.com/samijaber1/aegis-objectives/internal/window"
)

// Budget is the error budget of an objective over one window.
type Budget struct {
	Errors       float64
	Total        float64
	ErrorRatio   float64
	AllowedRatio float64
	// Remaining is 1 - ErrorRatio/AllowedRatio. Negative once overspent.
	Remaining float64
	// Availability is the good event ratio, 1 without traffic.
	Availability float64
	NoData       bool
}

// NewBudget derives the budget from raw counts.
func NewBudget(errors, total, target float64) Budget {
	ratio, ok := ErrorRatio(errors, total)
	return Budget{
		Errors:       errors,
		Total:        total,
		ErrorRatio:   ratio,
		AllowedRatio: AllowedRatio(target),
		Remaining:    ComputeBudgetRemaining(ratio, target),
		Availability: 1 - ratio,
		NoData:       !ok,
	}
}

// BudgetPoint is the remaining budget at one point of a graph.
type BudgetPoint struct {
	Timestamp time.Time
	Value     float64
}

// BurnRate is the burn rate measured over one window.
type BurnRate struct {
	Window time.Duration
	Rate   float64
	// NoData is set when the window had no traffic; Rate is 0 then.
	NoData bool
}

// Alert is the evaluation of one multi-window burn rate rung.
type Alert struct {
	Severity window.Severity
	Factor   float64
	For      time.Duration
	Short    BurnRate
	Long     BurnRate
	Firing   bool
}
