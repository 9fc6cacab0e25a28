package scheduler

import (
	"sync"
	"time"

	"github.com/samijaber1/aegis-objectives/internal/slo"
)

// ReloadState describes the outcome of the latest directory reload
type ReloadState struct {
	UpdatedAt time.Time
	Loaded    int
	Created   []string
	Updated   []string
	Removed   []string
	Errors    []slo.ValidationError
}

// OK reports whether the reload applied without errors
func (s ReloadState) OK() bool {
	return len(s.Errors) == 0
}

// StateCache is a thread-safe holder of the latest reload state
type StateCache struct {
	mu    sync.RWMutex
	state *ReloadState
}

// NewStateCache creates an empty state cache
func NewStateCache() *StateCache {
	return &StateCache{}
}

// Get returns a copy of the latest state. It reports false before the first
// reload.
func (c *StateCache) Get() (ReloadState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == nil {
		return ReloadState{}, false
	}
	s := *c.state
	s.Created = append([]string(nil), c.state.Created...)
	s.Updated = append([]string(nil), c.state.Updated...)
	s.Removed = append([]string(nil), c.state.Removed...)
	s.Errors = append([]slo.ValidationError(nil), c.state.Errors...)
	return s, true
}

// Set replaces the latest state
func (c *StateCache) Set(state ReloadState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = &state
}

// IsStale returns true if no reload happened within maxAge of now
func (c *StateCache) IsStale(now time.Time, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state == nil || now.Sub(c.state.UpdatedAt) > maxAge
}
