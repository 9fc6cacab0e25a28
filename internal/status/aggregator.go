// Package status composes budgets, burn rate alerts and RED graphs into the
// snapshots served by the API. It is the single place that turns metrics
// source failures into ErrBackendUnavailable.
package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

var (
	// ErrBackendUnavailable wraps every metrics source failure. The cause
	// stays reachable with errors.Is.
	ErrBackendUnavailable = errors.New("metrics backend unavailable")
	ErrInvalidRange       = errors.New("invalid time range")
	ErrNotApplicable      = errors.New("graph not available for this indicator")
)

// Objectives looks up registered objectives
type Objectives interface {
	Get(name string) (registry.Entry, error)
}

// Config holds aggregator configuration
type Config struct {
	// Timeout bounds all source queries of one call.
	Timeout time.Duration
	// Alignment rounds evaluation times up so repeated calls share queries.
	Alignment      time.Duration
	Rungs          window.Ladder
	MinShortWindow time.Duration
	// BudgetPoints is the resolution of error budget graphs.
	BudgetPoints int
	// REDRate is the rate window of RED graphs.
	REDRate time.Duration
	// REDMinStep is the finest step of RED graphs.
	REDMinStep   time.Duration
	REDMaxPoints int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        15 * time.Second,
		Alignment:      30 * time.Second,
		Rungs:          window.DefaultRungs(),
		MinShortWindow: time.Minute,
		BudgetPoints:   1000,
		REDRate:        5 * time.Minute,
		REDMinStep:     15 * time.Second,
		REDMaxPoints:   1000,
	}
}

// Aggregator computes objective snapshots
type Aggregator struct {
	objectives Objectives
	source     eval.Source
	budget     *eval.BudgetEngine
	burn       *eval.BurnRateEvaluator
	config     Config
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewAggregator creates an aggregator reading from source
func NewAggregator(objectives Objectives, source eval.Source, config Config, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		objectives: objectives,
		source:     source,
		budget:     eval.NewBudgetEngine(source),
		burn:       eval.NewBurnRateEvaluator(source),
		config:     config,
		tracer:     telemetry.Tracer(),
		logger:     logger.Named("status"),
	}
}

// Ladder returns the burn rate ladder used for an objective window
func (a *Aggregator) Ladder(objectiveWindow time.Duration) window.Ladder {
	return window.Compute(objectiveWindow, a.config.Rungs, a.config.MinShortWindow)
}

// Status evaluates the budget over the window ending at now and the burn
// rate ladder concurrently. It fails as a whole if any query fails.
func (a *Aggregator) Status(ctx context.Context, name string, now time.Time) (ObjectiveStatus, error) {
	ctx, span := a.tracer.Start(ctx, "status.Status", trace.WithAttributes(attribute.String("objective", name)))
	defer span.End()

	entry, err := a.objectives.Get(name)
	if err != nil {
		return ObjectiveStatus{}, a.fail(span, name, err)
	}

	objective := entry.Objective
	now = window.RoundUp(now, a.config.Alignment)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var budget eval.Budget
	var alerts []eval.Alert

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := a.budget.ComputeBudget(gctx, objective, window.Active(objective.Window, now))
		budget = b
		return err
	})
	g.Go(func() error {
		al, err := a.burn.Evaluate(gctx, objective, a.Ladder(objective.Window), now)
		alerts = al
		return err
	})
	if err := g.Wait(); err != nil {
		return ObjectiveStatus{}, a.fail(span, name, unavailable(err))
	}

	firing := eval.Firing(alerts)
	return ObjectiveStatus{
		Objective:   objective,
		Epoch:       entry.Epoch,
		ActiveSince: entry.ActiveSince,
		Budget:      budget,
		Alerts:      firing,
		Health:      EvaluateHealth(budget, firing),
		Timestamp:   now,
	}, nil
}

// Alerts evaluates every rung of the objective's ladder at now, firing or
// not, ordered by severity.
func (a *Aggregator) Alerts(ctx context.Context, name string, now time.Time) ([]eval.Alert, error) {
	ctx, span := a.tracer.Start(ctx, "status.Alerts", trace.WithAttributes(attribute.String("objective", name)))
	defer span.End()

	entry, err := a.objectives.Get(name)
	if err != nil {
		return nil, a.fail(span, name, err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	objective := entry.Objective
	alerts, err := a.burn.Evaluate(ctx, objective, a.Ladder(objective.Window), window.RoundUp(now, a.config.Alignment))
	if err != nil {
		return nil, a.fail(span, name, unavailable(err))
	}
	return alerts, nil
}

// ErrorBudget returns the remaining budget sampled between start and end.
// Zero times default to the objective window ending now.
func (a *Aggregator) ErrorBudget(ctx context.Context, name string, start, end, now time.Time) ([]eval.BudgetPoint, error) {
	ctx, span := a.tracer.Start(ctx, "status.ErrorBudget", trace.WithAttributes(attribute.String("objective", name)))
	defer span.End()

	entry, err := a.objectives.Get(name)
	if err != nil {
		return nil, a.fail(span, name, err)
	}

	objective := entry.Objective
	r, err := a.graphRange(objective.Window, start, end, now)
	if err != nil {
		return nil, a.fail(span, name, err)
	}
	r.Step = graphStep(r, a.config.BudgetPoints, time.Second)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	points, err := a.budget.Series(ctx, objective, r)
	if err != nil {
		return nil, a.fail(span, name, unavailable(err))
	}
	return points, nil
}

// RED returns a rate, errors or duration graph between start and end.
// Zero times default to the objective window ending now.
func (a *Aggregator) RED(ctx context.Context, name string, kind REDKind, start, end, now time.Time) (REDTable, error) {
	ctx, span := a.tracer.Start(ctx, "status.RED", trace.WithAttributes(
		attribute.String("objective", name),
		attribute.String("kind", string(kind))))
	defer span.End()

	entry, err := a.objectives.Get(name)
	if err != nil {
		return REDTable{}, a.fail(span, name, err)
	}
	objective := entry.Objective

	var expr string
	switch kind {
	case REDRequests:
		expr = objective.RequestsRangeQuery(a.config.REDRate)
	case REDErrors:
		expr = objective.ErrorsRangeQuery(a.config.REDRate)
	case REDDuration:
		var ok bool
		if expr, ok = objective.DurationRangeQuery(a.config.REDRate); !ok {
			return REDTable{}, a.fail(span, name, fmt.Errorf("%w: %s", ErrNotApplicable, kind))
		}
	default:
		return REDTable{}, a.fail(span, name, fmt.Errorf("%w: unknown graph %q", ErrNotApplicable, kind))
	}

	r, err := a.graphRange(objective.Window, start, end, now)
	if err != nil {
		return REDTable{}, a.fail(span, name, err)
	}
	r.Step = graphStep(r, a.config.REDMaxPoints, a.config.REDMinStep)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	matrix, err := a.source.Query(ctx, expr, r)
	if err != nil {
		return REDTable{}, a.fail(span, name, unavailable(err))
	}
	return alignMatrix(matrix), nil
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.Timeout)
}

// graphRange resolves optional graph bounds and aligns them.
func (a *Aggregator) graphRange(objectiveWindow time.Duration, start, end, now time.Time) (eval.Range, error) {
	if end.IsZero() {
		end = window.RoundUp(now, a.config.Alignment)
	}
	if start.IsZero() {
		start = end.Add(-objectiveWindow)
	}
	if !end.After(start) {
		return eval.Range{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange,
			end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339))
	}
	return eval.Range{Start: start, End: end}, nil
}

func (a *Aggregator) fail(span trace.Span, name string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrBackendUnavailable) {
		a.logger.Warn("objective evaluation failed", zap.String("objective", name), zap.Error(err))
	}
	return err
}

// unavailable wraps source failures. Context errors from a cancelled
// caller become timeouts of the backend from the caller's point of view.
func unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = &eval.QueryError{Kind: eval.ErrTimeout, Msg: err.Error()}
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// graphStep spreads the range over at most points steps, never finer than
// minStep, rounded to whole seconds.
func graphStep(r eval.Range, points int, minStep time.Duration) time.Duration {
	if points <= 0 {
		points = 1000
	}
	step := (r.End.Sub(r.Start) / time.Duration(points)).Round(time.Second)
	if step < minStep {
		step = minStep
	}
	if step < time.Second {
		step = time.Second
	}
	return step
}

// alignMatrix turns series into rows keyed by timestamp, so series with
// gaps or different start times line up.
func alignMatrix(m eval.Matrix) REDTable {
	// the matrix may be shared with the query cache
	m = append(eval.Matrix(nil), m...)
	sort.SliceStable(m, func(i, j int) bool { return m[i].LabelString() < m[j].LabelString() })

	table := REDTable{Labels: make([]string, len(m)), Rows: []REDRow{}}
	rows := make(map[int64]*REDRow)
	var stamps []int64

	for j, series := range m {
		table.Labels[j] = series.LabelString()
		for _, s := range series.Samples {
			ts := s.Timestamp.UnixMilli()
			row, ok := rows[ts]
			if !ok {
				row = &REDRow{Timestamp: s.Timestamp, Values: make([]float64, len(m))}
				for k := range row.Values {
					row.Values[k] = math.NaN()
				}
				rows[ts] = row
				stamps = append(stamps, ts)
			}
			row.Values[j] = s.Value
		}
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	for _, ts := range stamps {
		table.Rows = append(table.Rows, *rows[ts])
	}
	return table
}
