package status

import (
	"strings"
	"testing"
	"time"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

func TestEvaluateHealth(t *testing.T) {
	healthy := eval.Budget{Total: 1000, Remaining: 0.8}

	critical := eval.Alert{
		Severity: window.SeverityCritical,
		Factor:   14,
		Short:    eval.BurnRate{Window: 5 * time.Minute, Rate: 20},
		Long:     eval.BurnRate{Window: time.Hour, Rate: 15},
		Firing:   true,
	}
	warning := eval.Alert{
		Severity: window.SeverityWarning,
		Factor:   6,
		Short:    eval.BurnRate{Window: 2 * time.Hour, Rate: 7},
		Long:     eval.BurnRate{Window: 24 * time.Hour, Rate: 6.5},
		Firing:   true,
	}
	inactive := warning
	inactive.Firing = false

	tests := []struct {
		name        string
		budget      eval.Budget
		alerts      []eval.Alert
		wantHealth  Health
		wantReason  string
		wantReasons int
	}{
		{
			name:        "healthy - no alerts",
			budget:      healthy,
			wantHealth:  HealthOK,
			wantReason:  "all burn rate checks passed",
			wantReasons: 1,
		},
		{
			name:        "inactive alerts are ignored",
			budget:      healthy,
			alerts:      []eval.Alert{inactive},
			wantHealth:  HealthOK,
			wantReasons: 1,
		},
		{
			name:        "warning alert",
			budget:      healthy,
			alerts:      []eval.Alert{warning},
			wantHealth:  HealthWarning,
			wantReason:  "warning burn rate",
			wantReasons: 1,
		},
		{
			name:        "critical wins over warning",
			budget:      healthy,
			alerts:      []eval.Alert{critical, warning},
			wantHealth:  HealthCritical,
			wantReason:  "critical burn rate",
			wantReasons: 2,
		},
		{
			name:        "exhausted budget",
			budget:      eval.Budget{Total: 1000, Remaining: -0.5},
			wantHealth:  HealthWarning,
			wantReason:  "error budget exhausted",
			wantReasons: 1,
		},
		{
			name:        "no traffic",
			budget:      eval.Budget{Remaining: 1, NoData: true},
			wantHealth:  HealthOK,
			wantReason:  "no traffic",
			wantReasons: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EvaluateHealth(tt.budget, tt.alerts)

			if result.Health != tt.wantHealth {
				t.Errorf("expected health %s, got %s", tt.wantHealth, result.Health)
			}
			if len(result.Reasons) != tt.wantReasons {
				t.Errorf("expected %d reasons, got %v", tt.wantReasons, result.Reasons)
			}
			if tt.wantReason != "" && !strings.Contains(strings.Join(result.Reasons, "; "), tt.wantReason) {
				t.Errorf("expected a reason containing %q, got %v", tt.wantReason, result.Reasons)
			}
		})
	}
}
