package eval

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

// BudgetEngine computes error budgets from a Source.
type BudgetEngine struct {
	source Source
}

// NewBudgetEngine creates a budget engine reading from source.
func NewBudgetEngine(source Source) *BudgetEngine {
	return &BudgetEngine{source: source}
}

// ComputeBudget returns the budget of the objective over iv, evaluated at
// iv.End with a range selector of iv's length.
func (e *BudgetEngine) ComputeBudget(ctx context.Context, objective slo.Objective, iv window.Interval) (Budget, error) {
	errs, total, err := queryCounts(ctx, e.source, objective, iv.Duration(), iv.End)
	if err != nil {
		return Budget{}, err
	}
	return NewBudget(errs, total, objective.Target), nil
}

// Series evaluates the budget at every step of r, each point covering the
// objective window that ends at it.
func (e *BudgetEngine) Series(ctx context.Context, objective slo.Objective, r Range) ([]BudgetPoint, error) {
	var errorsM, totalM Matrix

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.source.Query(gctx, objective.ErrorsQuery(objective.Window), r)
		errorsM = m
		return err
	})
	g.Go(func() error {
		m, err := e.source.Query(gctx, objective.TotalQuery(objective.Window), r)
		totalM = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	errorsAt := make(map[int64]float64)
	totalAt := make(map[int64]float64)
	seen := make(map[int64]struct{})
	for _, s := range errorsM.Sum() {
		ts := s.Timestamp.UnixMilli()
		errorsAt[ts] = s.Value
		seen[ts] = struct{}{}
	}
	for _, s := range totalM.Sum() {
		ts := s.Timestamp.UnixMilli()
		totalAt[ts] = s.Value
		seen[ts] = struct{}{}
	}

	stamps := make([]int64, 0, len(seen))
	for ts := range seen {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	points := make([]BudgetPoint, 0, len(stamps))
	for _, ts := range stamps {
		ratio, _ := ErrorRatio(errorsAt[ts], totalAt[ts])
		points = append(points, BudgetPoint{
			Timestamp: time.UnixMilli(ts).UTC(),
			Value:     ComputeBudgetRemaining(ratio, objective.Target),
		})
	}
	return points, nil
}

// queryCounts fetches the error and total counts over w at ts concurrently.
// Missing data counts as zero.
func queryCounts(ctx context.Context, source Source, objective slo.Objective, w time.Duration, ts time.Time) (float64, float64, error) {
	var errs, total float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := instantOrZero(gctx, source, objective.ErrorsQuery(w), ts)
		errs = v
		return err
	})
	g.Go(func() error {
		v, err := instantOrZero(gctx, source, objective.TotalQuery(w), ts)
		total = v
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return errs, total, nil
}

func instantOrZero(ctx context.Context, source Source, expr string, ts time.Time) (float64, error) {
	v, err := source.QueryInstant(ctx, expr, ts)
	if errors.Is(err, ErrNoData) {
		return 0, nil
	}
	return v, err
}
