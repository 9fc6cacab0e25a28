package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/slo"
)

func objectiveYAML(name string, target float64) string {
	return fmt.Sprintf(`apiVersion: aegis.dev/v1
kind: Objective
metadata:
  name: %s
spec:
  target: %v
  window: 7d
  indicator:
    boolGauge:
      metric: up
      selector: job="%s"
`, name, target, name)
}

func writeObjective(t *testing.T, dir, name string, target float64) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(objectiveYAML(name, target)), 0o644); err != nil {
		t.Fatalf("failed to write objective: %v", err)
	}
}

func setupScheduler(t *testing.T, dir string, interval time.Duration) (*Scheduler, *registry.Registry) {
	t.Helper()

	validator, err := slo.NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	return NewScheduler(validator, reg, dir, interval, logger), reg
}

func TestScheduler_Reload(t *testing.T) {
	dir := t.TempDir()
	writeObjective(t, dir, "api", 0.99)
	writeObjective(t, dir, "queue", 0.999)

	s, reg := setupScheduler(t, dir, time.Minute)
	ctx := context.Background()

	state, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if state.Loaded != 2 || len(state.Created) != 2 || !state.OK() {
		t.Errorf("unexpected state after first reload: %+v", state)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 objectives, got %d", reg.Len())
	}

	// change one, remove one, add one and break one
	writeObjective(t, dir, "api", 0.995)
	if err := os.Remove(filepath.Join(dir, "queue.yaml")); err != nil {
		t.Fatal(err)
	}
	writeObjective(t, dir, "search", 0.9)
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("apiVersion: aegis.dev/v1\nkind: Objective\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	state, err = s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if state.OK() {
		t.Error("expected validation errors for broken.yaml")
	}
	if fmt.Sprint(state.Created, state.Updated, state.Removed) != "[search] [api] [queue]" {
		t.Errorf("unexpected changes: created=%v updated=%v removed=%v", state.Created, state.Updated, state.Removed)
	}

	e, err := reg.Get("api")
	if err != nil {
		t.Fatal(err)
	}
	if e.Epoch != 2 {
		t.Errorf("expected epoch 2 after target change, got %d", e.Epoch)
	}
	if reg.State("queue") != registry.StateRemoved {
		t.Errorf("expected queue to be removed, got %s", reg.State("queue"))
	}

	cached, ok := s.State()
	if !ok || cached.Loaded != 2 {
		t.Errorf("expected cached state with 2 objectives, got %+v", cached)
	}
}

func TestScheduler_InvalidEditKeepsActiveObjective(t *testing.T) {
	dir := t.TempDir()
	writeObjective(t, dir, "api", 0.99)

	s, reg := setupScheduler(t, dir, time.Minute)
	ctx := context.Background()

	if _, err := s.Reload(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	writeObjective(t, dir, "api", 1.5)
	state, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if state.OK() {
		t.Error("expected a validation error for api.yaml")
	}
	if len(state.Removed) != 0 {
		t.Errorf("expected nothing removed, got %v", state.Removed)
	}

	e, err := reg.Get("api")
	if err != nil {
		t.Fatalf("expected api to stay active: %v", err)
	}
	if e.Epoch != 1 || e.Objective.Target != 0.99 {
		t.Errorf("expected the previous definition at epoch 1, got target %v at epoch %d", e.Objective.Target, e.Epoch)
	}

	// fixing the file applies as an ordinary update
	writeObjective(t, dir, "api", 0.995)
	state, err = s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if fmt.Sprint(state.Updated) != "[api]" {
		t.Errorf("expected api to be updated, got %v", state.Updated)
	}
	e, err = reg.Get("api")
	if err != nil {
		t.Fatal(err)
	}
	if e.Epoch != 2 {
		t.Errorf("expected epoch 2 after the fix, got %d", e.Epoch)
	}
}

func TestScheduler_ReloadMissingDirectory(t *testing.T) {
	s, reg := setupScheduler(t, filepath.Join(t.TempDir(), "missing"), time.Minute)

	if _, err := s.Reload(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestScheduler_StartStop(t *testing.T) {
	dir := t.TempDir()
	writeObjective(t, dir, "api", 0.99)

	s, reg := setupScheduler(t, dir, 20*time.Millisecond)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected first reload to run synchronously, got %d objectives", reg.Len())
	}
	if !s.Ready(time.Now()) {
		t.Error("expected scheduler to be ready")
	}

	writeObjective(t, dir, "queue", 0.999)

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 2 {
		t.Errorf("expected periodic reload to pick up new file, got %d objectives", reg.Len())
	}

	s.Stop()
	s.Stop()
}

func TestStateCache(t *testing.T) {
	c := NewStateCache()
	now := time.Now()

	if _, ok := c.Get(); ok {
		t.Error("expected no state before first reload")
	}
	if !c.IsStale(now, time.Minute) {
		t.Error("expected empty cache to be stale")
	}

	c.Set(ReloadState{UpdatedAt: now, Loaded: 1, Created: []string{"api"}})

	state, ok := c.Get()
	if !ok || state.Loaded != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}
	state.Created[0] = "mutated"
	again, _ := c.Get()
	if again.Created[0] != "api" {
		t.Error("expected Get to return a copy")
	}

	if c.IsStale(now.Add(30*time.Second), time.Minute) {
		t.Error("expected fresh state")
	}
	if !c.IsStale(now.Add(2*time.Minute), time.Minute) {
		t.Error("expected stale state")
	}
}
