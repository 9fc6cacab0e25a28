package api

import (
	"encoding/json"
	"math"
	"time"
)

// StatusResponse is the current state of an objective
type StatusResponse struct {
	Availability AvailabilityInfo `json:"availability"`
	Budget       BudgetInfo       `json:"budget"`
	Alerts       []AlertResponse  `json:"alerts"`
	Health       string           `json:"health"`
	Reasons      []string         `json:"reasons"`
	Epoch        int              `json:"epoch"`
	ActiveSince  time.Time        `json:"activeSince"`
	Timestamp    time.Time        `json:"timestamp"`
}

// AvailabilityInfo contains the event counts of the objective window
type AvailabilityInfo struct {
	Percentage float64 `json:"percentage"`
	Total      float64 `json:"total"`
	Errors     float64 `json:"errors"`
}

// BudgetInfo describes the error budget. Total is the allowed error ratio,
// Max the number of errors it allows for the observed traffic.
type BudgetInfo struct {
	Total            float64 `json:"total"`
	Remaining        float64 `json:"remaining"`
	RemainingClamped float64 `json:"remainingClamped"`
	Max              float64 `json:"max"`
}

// AlertResponse is one multi-window burn rate alert. Durations are in
// milliseconds.
type AlertResponse struct {
	Severity string       `json:"severity"`
	For      int64        `json:"for"`
	Factor   float64      `json:"factor"`
	Short    BurnRateInfo `json:"short"`
	Long     BurnRateInfo `json:"long"`
	State    string       `json:"state"`
}

// BurnRateInfo contains the burn rate over one window
type BurnRateInfo struct {
	Window  int64   `json:"window"`
	Current float64 `json:"current"`
	NoData  bool    `json:"noData,omitempty"`
}

// ErrorBudgetResponse is the remaining budget over time
type ErrorBudgetResponse struct {
	Pair []ErrorBudgetPair `json:"pair"`
}

// ErrorBudgetPair is one graph point; T is in unix seconds
type ErrorBudgetPair struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// QueryRangeResponse is a RED graph. Every row of Values starts with the
// unix timestamp followed by one value per label set.
type QueryRangeResponse struct {
	Labels []string          `json:"labels"`
	Values [][]NullableFloat `json:"values"`
}

// NullableFloat encodes NaN as null
type NullableFloat float64

// MarshalJSON implements json.Marshaler
func (f NullableFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready            bool       `json:"ready"`
	ObjectivesLoaded int        `json:"objectivesLoaded"`
	LastReload       *time.Time `json:"lastReload,omitempty"`
	Reasons          []string   `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	CodeNotFound           = "NotFound"
	CodeAlreadyExists      = "AlreadyExists"
	CodeInvalidObjective   = "InvalidObjective"
	CodeInvalidExpression  = "InvalidExpression"
	CodeInvalidParameter   = "InvalidParameter"
	CodeBackendUnavailable = "BackendUnavailable"
	CodeInternal           = "Internal"
)

// EventResponse is one lifecycle event of an objective. Window is in
// milliseconds.
type EventResponse struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Epoch     int       `json:"epoch"`
	Target    float64   `json:"target"`
	Window    int64     `json:"window"`
	Timestamp time.Time `json:"timestamp"`
}
