package status

import (
	"fmt"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

// Health summarizes an objective status
type Health string

const (
	HealthOK       Health = "ok"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// HealthResult is the health verdict with the reasons behind it
type HealthResult struct {
	Health  Health
	Reasons []string
}

// EvaluateHealth derives the health of an objective from its budget and
// burn rate alerts. A firing critical alert makes it critical; a firing
// warning alert or an exhausted budget makes it at least a warning.
func EvaluateHealth(budget eval.Budget, alerts []eval.Alert) HealthResult {
	result := HealthResult{
		Health:  HealthOK,
		Reasons: []string{},
	}

	if budget.NoData {
		result.Reasons = append(result.Reasons, "no traffic in the objective window")
	}

	if budget.Remaining <= 0 && !budget.NoData {
		result.Health = HealthWarning
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("error budget exhausted (%.2f%% remaining)", budget.Remaining*100))
	}

	for _, a := range alerts {
		if !a.Firing {
			continue
		}

		// Aggregate: critical > warning > ok
		switch a.Severity {
		case window.SeverityCritical:
			result.Health = HealthCritical
		case window.SeverityWarning:
			if result.Health != HealthCritical {
				result.Health = HealthWarning
			}
		}

		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"%s burn rate: %.2fx over %s and %.2fx over %s (threshold %.2fx)",
			a.Severity, a.Short.Rate, a.Short.Window, a.Long.Rate, a.Long.Window, a.Factor))
	}

	if result.Health == HealthOK && len(result.Reasons) == 0 {
		result.Reasons = append(result.Reasons, "all burn rate checks passed")
	}

	return result
}
