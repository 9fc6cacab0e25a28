package eval

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

// BurnRateEvaluator evaluates multi-window, multi-burn-rate alerts.
type BurnRateEvaluator struct {
	source Source
}

// NewBurnRateEvaluator creates an evaluator reading from source.
func NewBurnRateEvaluator(source Source) *BurnRateEvaluator {
	return &BurnRateEvaluator{source: source}
}

// Evaluate computes one alert per ladder rung at now. Every distinct window
// is queried once and all windows are queried concurrently. A rung fires
// only when both its short and long burn rate exceed its factor. The result
// is ordered by severity, then by ladder position.
func (b *BurnRateEvaluator) Evaluate(ctx context.Context, objective slo.Objective, ladder window.Ladder, now time.Time) ([]Alert, error) {
	var mu sync.Mutex
	rates := make(map[time.Duration]BurnRate)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range ladder.Windows() {
		w := w
		g.Go(func() error {
			errs, total, err := queryCounts(gctx, b.source, objective, w, now)
			if err != nil {
				return err
			}
			ratio, ok := ErrorRatio(errs, total)

			mu.Lock()
			rates[w] = BurnRate{
				Window: w,
				Rate:   ComputeBurnRate(ratio, objective.Target),
				NoData: !ok,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	alerts := make([]Alert, 0, len(ladder))
	for _, r := range ladder {
		short, long := rates[r.Short], rates[r.Long]
		alerts = append(alerts, Alert{
			Severity: r.Severity,
			Factor:   r.Factor,
			For:      r.For,
			Short:    short,
			Long:     long,
			Firing:   Exceeds(short.Rate, r.Factor) && Exceeds(long.Rate, r.Factor),
		})
	}
	SortAlerts(alerts)
	return alerts, nil
}

// SortAlerts orders alerts by severity, most severe first, keeping the
// relative order of alerts of the same severity.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
}

// Firing returns the firing alerts, keeping their order.
func Firing(alerts []Alert) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Firing {
			out = append(out, a)
		}
	}
	return out
}
