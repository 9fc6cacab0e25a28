package slo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidObjective is returned for objectives that can not become active.
var ErrInvalidObjective = errors.New("invalid objective")

// Validate checks the invariants an objective must hold before it is
// registered. The returned error wraps ErrInvalidObjective.
func (o Objective) Validate() error {
	if o.Name == "" {
		return invalid("name is required")
	}
	if strings.ContainsAny(o.Name, "/?#") {
		return invalid("name %q contains reserved characters", o.Name)
	}
	// Written this way so NaN is rejected too.
	if !(o.Target > 0 && o.Target < 1) {
		return invalid("target must be within (0, 1), got %v", o.Target)
	}
	if o.Window <= 0 {
		return invalid("window must be positive, got %s", o.Window)
	}
	return o.Indicator.validate()
}

func (i Indicator) validate() error {
	switch i.Kind() {
	case KindRatio:
		if strings.TrimSpace(i.Ratio.Errors) == "" || strings.TrimSpace(i.Ratio.Total) == "" {
			return invalid("ratio indicator needs errors and total queries")
		}
	case KindLatency:
		if i.Latency.Metric == "" {
			return invalid("latency indicator needs a metric")
		}
		if !(i.Latency.Threshold > 0) {
			return invalid("latency threshold must be positive, got %v", i.Latency.Threshold)
		}
		if p := i.Latency.Percentile; p != 0 && !(p > 0 && p < 1) {
			return invalid("latency percentile must be within (0, 1), got %v", p)
		}
	case KindBoolGauge:
		if i.BoolGauge.Metric == "" {
			return invalid("boolGauge indicator needs a metric")
		}
	default:
		return invalid("exactly one of ratio, latency or boolGauge indicator must be set")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidObjective, fmt.Sprintf(format, args...))
}
