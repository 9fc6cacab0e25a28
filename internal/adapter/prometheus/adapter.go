package prometheus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
)

const adapterName = "prometheus"

// Config holds Prometheus adapter configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	// RoundTripper overrides the HTTP transport, mostly for tests.
	RoundTripper http.RoundTripper
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
	}
}

// Adapter is a Prometheus metrics source. Queries are never retried; every
// query is bounded by the configured timeout and the number of queries in
// flight by MaxConcurrency.
type Adapter struct {
	config Config
	api    v1.API
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// NewAdapter creates a new Prometheus adapter
func NewAdapter(config Config, logger *zap.Logger) (*Adapter, error) {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	client, err := api.NewClient(api.Config{
		Address:      config.URL,
		RoundTripper: config.RoundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	return &Adapter{
		config: config,
		api:    v1.NewAPI(client),
		sem:    semaphore.NewWeighted(config.MaxConcurrency),
		logger: logger.Named("prometheus"),
	}, nil
}

// QueryInstant implements eval.Source. All series of the result are summed.
func (a *Adapter) QueryInstant(ctx context.Context, expr string, ts time.Time) (float64, error) {
	ctx, cancel, err := a.acquire(ctx, expr)
	if err != nil {
		return 0, err
	}
	defer a.release(cancel)

	start := time.Now()
	value, warnings, err := a.api.Query(ctx, expr, ts)
	a.observe("instant", start, err)
	a.logWarnings(expr, warnings)
	if err != nil {
		return 0, classify(ctx, expr, err)
	}

	return sumValue(value)
}

// Query implements eval.Source.
func (a *Adapter) Query(ctx context.Context, expr string, r eval.Range) (eval.Matrix, error) {
	ctx, cancel, err := a.acquire(ctx, expr)
	if err != nil {
		return nil, err
	}
	defer a.release(cancel)

	start := time.Now()
	value, warnings, err := a.api.QueryRange(ctx, expr, v1.Range{Start: r.Start, End: r.End, Step: r.Step})
	a.observe("range", start, err)
	a.logWarnings(expr, warnings)
	if err != nil {
		return nil, classify(ctx, expr, err)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, &eval.QueryError{
			Kind: eval.ErrInvalidExpression,
			Expr: expr,
			Msg:  fmt.Sprintf("range query returned %s, expected matrix", value.Type()),
		}
	}
	return convertMatrix(matrix), nil
}

// acquire bounds the query by the configured timeout and takes a
// concurrency slot.
func (a *Adapter) acquire(ctx context.Context, expr string) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	if err := a.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, nil, classify(ctx, expr, err)
	}
	return ctx, cancel, nil
}

func (a *Adapter) release(cancel context.CancelFunc) {
	a.sem.Release(1)
	cancel()
}

func (a *Adapter) observe(queryType string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	telemetry.SourceQueries.WithLabelValues(adapterName, queryType, result).Inc()
	telemetry.SourceQueryDuration.WithLabelValues(adapterName, queryType).Observe(time.Since(start).Seconds())
}

func (a *Adapter) logWarnings(expr string, warnings v1.Warnings) {
	if len(warnings) > 0 {
		a.logger.Warn("prometheus query returned warnings",
			zap.String("query", expr),
			zap.Strings("warnings", warnings))
	}
}

// classify maps client errors onto the eval error kinds.
func classify(ctx context.Context, expr string, err error) error {
	kind := eval.ErrUnreachable
	var apiErr *v1.Error
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.Type {
		case v1.ErrBadData:
			kind = eval.ErrInvalidExpression
		case v1.ErrTimeout, v1.ErrCanceled:
			kind = eval.ErrTimeout
		}
		return &eval.QueryError{Kind: kind, Expr: expr, Msg: apiErr.Msg}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		// the caller giving up is reported like a deadline
		kind = eval.ErrTimeout
	}
	return &eval.QueryError{Kind: kind, Expr: expr, Msg: err.Error()}
}

// sumValue adds up an instant query result. NaN samples are skipped and an
// empty result is eval.ErrNoData.
func sumValue(value model.Value) (float64, error) {
	var sum float64
	var found bool

	switch v := value.(type) {
	case *model.Scalar:
		if math.IsNaN(float64(v.Value)) {
			return 0, eval.ErrNoData
		}
		return float64(v.Value), nil
	case model.Vector:
		for _, s := range v {
			if math.IsNaN(float64(s.Value)) {
				continue
			}
			sum += float64(s.Value)
			found = true
		}
	case model.Matrix:
		// an instant query with a range selector; the last sample counts
		for _, ss := range v {
			if n := len(ss.Values); n > 0 && !math.IsNaN(float64(ss.Values[n-1].Value)) {
				sum += float64(ss.Values[n-1].Value)
				found = true
			}
		}
	}

	if !found {
		return 0, eval.ErrNoData
	}
	return sum, nil
}

func convertMatrix(m model.Matrix) eval.Matrix {
	out := make(eval.Matrix, 0, len(m))
	for _, ss := range m {
		series := eval.Series{Labels: make(map[string]string, len(ss.Metric))}
		for k, v := range ss.Metric {
			series.Labels[string(k)] = string(v)
		}
		for _, p := range ss.Values {
			if math.IsNaN(float64(p.Value)) {
				continue
			}
			series.Samples = append(series.Samples, eval.Sample{
				Timestamp: p.Timestamp.Time().UTC(),
				Value:     float64(p.Value),
			})
		}
		if len(series.Samples) > 0 {
			out = append(out, series)
		}
	}
	return out
}
