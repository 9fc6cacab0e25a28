// Package scheduler periodically reloads objective definitions from a
// directory into the registry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
)

// Scheduler keeps the registry in sync with an objective directory
type Scheduler struct {
	validator *slo.Validator
	registry  *registry.Registry
	directory string
	interval  time.Duration
	state     *StateCache
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a new scheduler
func NewScheduler(validator *slo.Validator, reg *registry.Registry, directory string, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		validator: validator,
		registry:  reg,
		directory: directory,
		interval:  interval,
		state:     NewStateCache(),
		logger:    logger.Named("scheduler"),
	}
}

// Reload validates the directory and syncs the registry with the valid
// objectives. Invalid files are reported and skipped, and an active objective
// whose file became invalid stays at its previous definition. If the
// directory can not be read at all the registry is left untouched.
func (s *Scheduler) Reload(ctx context.Context) (ReloadState, error) {
	objectives, validationErrors := s.validator.ValidateDirectory(s.directory)

	state := ReloadState{
		UpdatedAt: time.Now(),
		Errors:    validationErrors,
	}

	for _, ve := range validationErrors {
		s.logger.Warn("invalid objective file",
			zap.String("file", ve.File),
			zap.String("path", ve.Path),
			zap.String("error", ve.Message))
	}

	if len(objectives) == 0 && len(validationErrors) > 0 && validationErrors[0].File == s.directory {
		telemetry.Reloads.WithLabelValues("error").Inc()
		s.state.Set(state)
		return state, fmt.Errorf("failed to read objective directory %s: %s", s.directory, validationErrors[0].Message)
	}

	desired := make([]slo.Objective, 0, len(objectives))
	for _, o := range objectives {
		desired = append(desired, o.Objective)
	}

	// a file that stops validating keeps its last good definition active
	var rejected []string
	for _, ve := range validationErrors {
		if ve.Name != "" {
			rejected = append(rejected, ve.Name)
		}
	}

	result, err := s.registry.Sync(ctx, desired, rejected...)
	if err != nil {
		telemetry.Reloads.WithLabelValues("error").Inc()
		s.state.Set(state)
		return state, fmt.Errorf("failed to sync objectives: %w", err)
	}

	state.Loaded = len(desired)
	state.Created = result.Created
	state.Updated = result.Updated
	state.Removed = result.Removed
	s.state.Set(state)

	outcome := "success"
	if !state.OK() {
		outcome = "partial"
	}
	telemetry.Reloads.WithLabelValues(outcome).Inc()

	s.logger.Info("objectives reloaded",
		zap.String("directory", s.directory),
		zap.Int("loaded", state.Loaded),
		zap.Strings("created", result.Created),
		zap.Strings("updated", result.Updated),
		zap.Strings("removed", result.Removed),
		zap.Int("errors", len(validationErrors)))
	return state, nil
}

// Start begins periodic reloads. The first reload runs synchronously and its
// error is returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	if s.interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("reload interval must be positive, got %s", s.interval)
	}
	s.running = true
	s.mu.Unlock()

	if _, err := s.Reload(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reloadLoop(ctx)

	s.logger.Info("started objective reloads", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and waits for a running reload to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// State returns the latest reload state
func (s *Scheduler) State() (ReloadState, bool) {
	return s.state.Get()
}

// Ready reports whether a reload happened recently enough. Missing two
// intervals in a row means the loop is stuck.
func (s *Scheduler) Ready(now time.Time) bool {
	return !s.state.IsStale(now, 2*s.interval+time.Minute)
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(ctx); err != nil {
				s.logger.Error("objective reload failed", zap.Error(err))
			}
		}
	}
}
