package slo

import (
	"fmt"
	"time"

	"github.com/prometheus/common/model"
)

// ParseDuration parses Prometheus style durations like "5m", "1h30m", "28d".
// Zero and empty durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	d, err := model.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return time.Duration(d), nil
}

// FormatDuration renders a duration the way PromQL range selectors expect it.
func FormatDuration(d time.Duration) string {
	return model.Duration(d).String()
}
