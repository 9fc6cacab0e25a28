package synthetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samijaber1/aegis-objectives/internal/eval"
)

// Fixture is the metric fixture file format. Values are keyed by the exact
// query expression.
type Fixture struct {
	Instant map[string]float64         `json:"instant,omitempty"`
	Series  map[string][]SeriesFixture `json:"series,omitempty"`
}

// SeriesFixture is one labelled series of a range query result
type SeriesFixture struct {
	Labels map[string]string `json:"labels,omitempty"`
	Points []Point           `json:"points"`
}

// Point is a sample; T is in unix seconds
type Point struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// Adapter is a deterministic metrics source backed by in-memory fixtures.
type Adapter struct {
	mu      sync.RWMutex
	instant map[string]float64
	series  map[string][]SeriesFixture
	errs    map[string]error
	delay   time.Duration
	calls   atomic.Int64
}

// NewAdapter creates a new synthetic adapter
func NewAdapter() *Adapter {
	return &Adapter{
		instant: make(map[string]float64),
		series:  make(map[string][]SeriesFixture),
		errs:    make(map[string]error),
	}
}

// LoadFixture merges a metric fixture from a JSON file
func (a *Adapter) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	a.SetFixture(&fixture)
	return nil
}

// SetFixture merges a fixture into the adapter
func (a *Adapter) SetFixture(fixture *Fixture) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for expr, v := range fixture.Instant {
		a.instant[expr] = v
	}
	for expr, s := range fixture.Series {
		a.series[expr] = s
	}
}

// SetInstant sets the value returned for an instant query
func (a *Adapter) SetInstant(expr string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instant[expr] = value
}

// SetSeries sets the series returned for a range query
func (a *Adapter) SetSeries(expr string, series ...SeriesFixture) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series[expr] = series
}

// SetError makes every query for expr fail with err
func (a *Adapter) SetError(expr string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[expr] = err
}

// SetDelay delays every query, honouring context cancellation
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Calls returns how many queries were served
func (a *Adapter) Calls() int64 {
	return a.calls.Load()
}

// QueryInstant implements eval.Source
func (a *Adapter) QueryInstant(ctx context.Context, expr string, ts time.Time) (float64, error) {
	if err := a.begin(ctx, expr); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.instant[expr]
	if !ok {
		return 0, eval.ErrNoData
	}
	return v, nil
}

// Query implements eval.Source. Points outside the range are dropped.
func (a *Adapter) Query(ctx context.Context, expr string, r eval.Range) (eval.Matrix, error) {
	if err := a.begin(ctx, expr); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var matrix eval.Matrix
	for _, sf := range a.series[expr] {
		series := eval.Series{Labels: sf.Labels}
		for _, p := range sf.Points {
			ts := time.Unix(p.T, 0).UTC()
			if ts.Before(r.Start) || ts.After(r.End) {
				continue
			}
			series.Samples = append(series.Samples, eval.Sample{Timestamp: ts, Value: p.V})
		}
		if len(series.Samples) > 0 {
			matrix = append(matrix, series)
		}
	}
	return matrix, nil
}

func (a *Adapter) begin(ctx context.Context, expr string) error {
	a.calls.Add(1)

	a.mu.RLock()
	delay := a.delay
	err := a.errs[expr]
	a.mu.RUnlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return contextError(ctx, expr)
		case <-timer.C:
		}
	}
	if ctx.Err() != nil {
		return contextError(ctx, expr)
	}
	return err
}

func contextError(ctx context.Context, expr string) error {
	kind := eval.ErrUnreachable
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = eval.ErrTimeout
	}
	return &eval.QueryError{Kind: kind, Expr: expr, Msg: ctx.Err().Error()}
}
