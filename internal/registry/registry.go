// Package registry holds the configured objectives. It allows concurrent
// readers and serializes writers; an entry is never modified in place, so
// readers observe either the old or the new definition of an objective.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/storage"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
)

var (
	ErrNotFound      = errors.New("objective not found")
	ErrAlreadyExists = errors.New("objective already exists")
)

// State of an objective name in the registry
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateActive       State = "active"
	StateRemoved      State = "removed"
)

// Entry is an active objective with its budget epoch. Epoch starts at 1 and
// increments whenever target or window change; ActiveSince is when the
// current epoch began.
type Entry struct {
	Objective   slo.Objective
	Epoch       int
	ActiveSince time.Time
	UpdatedAt   time.Time
}

// SyncResult lists the names touched by Sync
type SyncResult struct {
	Created []string
	Updated []string
	Removed []string
}

// Registry is the set of configured objectives
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	removed map[string]struct{}

	store  storage.ObjectiveStore
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithStore persists every change to store before it becomes visible. A
// failed write rejects the change.
func WithStore(store storage.ObjectiveStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry
func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		removed: make(map[string]struct{}),
		now:     time.Now,
		logger:  logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns a copy of the named entry
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.copy(), nil
}

// List returns copies of all entries ordered by name
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.copy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Objective.Name < out[j].Objective.Name })
	return out
}

// Len returns the number of active objectives
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// State reports where name is in its lifecycle
func (r *Registry) State(name string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.entries[name]; ok {
		return StateActive
	}
	if _, ok := r.removed[name]; ok {
		return StateRemoved
	}
	return StateUnconfigured
}

// Create validates and activates a new objective
func (r *Registry) Create(ctx context.Context, objective slo.Objective) (Entry, error) {
	if err := objective.Validate(); err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[objective.Name]; ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrAlreadyExists, objective.Name)
	}
	return r.create(ctx, objective)
}

// Update replaces an active objective in place. Changing target or window
// starts a new budget epoch.
func (r *Registry) Update(ctx context.Context, objective slo.Objective) (Entry, error) {
	if err := objective.Validate(); err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[objective.Name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, objective.Name)
	}
	return r.update(ctx, old, objective)
}

// Put creates the objective or updates it when it is already active. It
// reports whether the objective was created.
func (r *Registry) Put(ctx context.Context, objective slo.Objective) (Entry, bool, error) {
	if err := objective.Validate(); err != nil {
		return Entry{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[objective.Name]; ok {
		e, err := r.update(ctx, old, objective)
		return e, false, err
	}
	e, err := r.create(ctx, objective)
	return e, err == nil, err
}

// Remove deactivates an objective. Lookups fail with ErrNotFound afterwards
// until the name is created again.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r.remove(ctx, name)
}

// Sync makes the registry match objectives: missing ones are created,
// changed ones updated and the rest removed. Active objectives named in keep
// are left as they are even when objectives does not list them. All
// objectives are validated before anything changes.
func (r *Registry) Sync(ctx context.Context, objectives []slo.Objective, keep ...string) (SyncResult, error) {
	var result SyncResult

	kept := make(map[string]bool, len(keep))
	for _, name := range keep {
		kept[name] = true
	}

	desired := make(map[string]slo.Objective, len(objectives))
	for _, o := range objectives {
		if err := o.Validate(); err != nil {
			return result, fmt.Errorf("objective %q: %w", o.Name, err)
		}
		if _, dup := desired[o.Name]; dup {
			return result, fmt.Errorf("%w: duplicate name %q", slo.ErrInvalidObjective, o.Name)
		}
		desired[o.Name] = o
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := desired[name]
		old, ok := r.entries[name]
		switch {
		case !ok:
			if _, err := r.create(ctx, o); err != nil {
				return result, err
			}
			result.Created = append(result.Created, name)
		case !reflect.DeepEqual(old.Objective, o):
			if _, err := r.update(ctx, old, o); err != nil {
				return result, err
			}
			result.Updated = append(result.Updated, name)
		}
	}

	var stale []string
	for name := range r.entries {
		if _, ok := desired[name]; !ok && !kept[name] {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		if err := r.remove(ctx, name); err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, name)
	}

	return result, nil
}

// Restore loads the objectives persisted in the store, keeping their epochs.
// Restoring without a store is a no-op.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	records, err := r.store.LoadObjectives(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load objectives: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range records {
		if err := rec.Objective.Validate(); err != nil {
			r.logger.Warn("skipping invalid stored objective",
				zap.String("objective", rec.Objective.Name),
				zap.Error(err))
			continue
		}
		r.entries[rec.Objective.Name] = &Entry{
			Objective:   rec.Objective.Clone(),
			Epoch:       rec.Epoch,
			ActiveSince: rec.ActiveSince,
			UpdatedAt:   rec.UpdatedAt,
		}
		delete(r.removed, rec.Objective.Name)
		n++
	}
	telemetry.ObjectivesActive.Set(float64(len(r.entries)))
	return n, nil
}

// create, update and remove expect r.mu to be held for writing.

func (r *Registry) create(ctx context.Context, objective slo.Objective) (Entry, error) {
	now := r.now()
	e := &Entry{
		Objective:   objective.Clone(),
		Epoch:       1,
		ActiveSince: now,
		UpdatedAt:   now,
	}
	if err := r.persist(ctx, e, storage.ActionCreated); err != nil {
		return Entry{}, err
	}

	r.entries[objective.Name] = e
	delete(r.removed, objective.Name)
	telemetry.ObjectivesActive.Set(float64(len(r.entries)))

	r.logger.Info("objective created",
		zap.String("objective", objective.Name),
		zap.Float64("target", objective.Target),
		zap.Duration("window", objective.Window))
	return e.copy(), nil
}

func (r *Registry) update(ctx context.Context, old *Entry, objective slo.Objective) (Entry, error) {
	now := r.now()
	e := &Entry{
		Objective:   objective.Clone(),
		Epoch:       old.Epoch,
		ActiveSince: old.ActiveSince,
		UpdatedAt:   now,
	}
	if !old.Objective.SameBudget(objective) {
		e.Epoch++
		e.ActiveSince = now
	}
	if err := r.persist(ctx, e, storage.ActionUpdated); err != nil {
		return Entry{}, err
	}

	r.entries[objective.Name] = e

	r.logger.Info("objective updated",
		zap.String("objective", objective.Name),
		zap.Int("epoch", e.Epoch),
		zap.Bool("new_epoch", e.Epoch != old.Epoch))
	return e.copy(), nil
}

func (r *Registry) remove(ctx context.Context, name string) error {
	if r.store != nil {
		if err := r.store.DeleteObjective(ctx, name, r.now()); err != nil {
			return fmt.Errorf("failed to persist removal of %s: %w", name, err)
		}
	}

	delete(r.entries, name)
	r.removed[name] = struct{}{}
	telemetry.ObjectivesActive.Set(float64(len(r.entries)))

	r.logger.Info("objective removed", zap.String("objective", name))
	return nil
}

func (r *Registry) persist(ctx context.Context, e *Entry, action storage.Action) error {
	if r.store == nil {
		return nil
	}
	err := r.store.SaveObjective(ctx, storage.Record{
		Objective:   e.Objective,
		Epoch:       e.Epoch,
		ActiveSince: e.ActiveSince,
		UpdatedAt:   e.UpdatedAt,
	}, action)
	if err != nil {
		return fmt.Errorf("failed to persist objective %s: %w", e.Objective.Name, err)
	}
	return nil
}

func (e *Entry) copy() Entry {
	c := *e
	c.Objective = e.Objective.Clone()
	return c
}
