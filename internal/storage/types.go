package storage

import (
	"context"
	"time"

	"github.com/samijaber1/aegis-objectives/internal/slo"
)

// ObjectiveStore persists the registry's objectives so they survive restarts
type ObjectiveStore interface {
	// SaveObjective creates or replaces an objective and appends an event
	SaveObjective(ctx context.Context, record Record, action Action) error

	// DeleteObjective removes an objective and appends a removal event
	DeleteObjective(ctx context.Context, name string, at time.Time) error

	// LoadObjectives returns every stored objective ordered by name
	LoadObjectives(ctx context.Context) ([]Record, error)

	// QueryEvents retrieves lifecycle events with optional filtering
	QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// Close closes the storage connection
	Close() error
}

// Record is a stored objective with its budget epoch
type Record struct {
	Objective   slo.Objective
	Epoch       int
	ActiveSince time.Time
	UpdatedAt   time.Time
}

// Action is a lifecycle transition of an objective
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
)

// EventFilter defines filtering options for event queries
type EventFilter struct {
	Name      string
	Action    Action
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Event is one lifecycle transition
type Event struct {
	ID        int64
	Name      string
	Action    Action
	Epoch     int
	Target    float64
	Window    time.Duration
	Timestamp time.Time
}
