package status

import (
	"time"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/slo"
)

// ObjectiveStatus is a point in time snapshot of an objective. It is always
// derived fresh from the metrics source.
type ObjectiveStatus struct {
	Objective   slo.Objective
	Epoch       int
	ActiveSince time.Time
	// Budget covers the rolling window ending at Timestamp.
	Budget eval.Budget
	// Alerts holds the firing alerts, most severe first.
	Alerts    []eval.Alert
	Health    HealthResult
	Timestamp time.Time
}

// REDKind selects a RED graph
type REDKind string

const (
	REDRequests REDKind = "requests"
	REDErrors   REDKind = "errors"
	REDDuration REDKind = "duration"
)

// REDTable is a range query result aligned on timestamps. Rows[i].Values[j]
// is the value of Labels[j] at Rows[i].Timestamp, NaN when the series has no
// sample there.
type REDTable struct {
	Labels []string
	Rows   []REDRow
}

// REDRow is one timestamp of a REDTable
type REDRow struct {
	Timestamp time.Time
	Values    []float64
}
