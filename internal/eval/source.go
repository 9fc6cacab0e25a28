package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/common/model"
)

// Source is the time-series backend objectives are evaluated against.
//
// QueryInstant evaluates expr at ts and returns the sum of all resulting
// series; it returns ErrNoData when the result is empty. Query evaluates expr
// over a range and returns every series. Failures are *QueryError values
// wrapping ErrUnreachable, ErrTimeout or ErrInvalidExpression.
type Source interface {
	Query(ctx context.Context, expr string, r Range) (Matrix, error)
	QueryInstant(ctx context.Context, expr string, ts time.Time) (float64, error)
}

var (
	ErrUnreachable       = errors.New("metrics backend unreachable")
	ErrTimeout           = errors.New("metrics query timed out")
	ErrInvalidExpression = errors.New("invalid query expression")
	ErrNoData            = errors.New("no data")
)

// QueryError describes a failed backend query.
type QueryError struct {
	// Kind is one of ErrUnreachable, ErrTimeout or ErrInvalidExpression.
	Kind error
	Expr string
	// Msg is the backend's explanation, without the expression.
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%v: %s (query: %s)", e.Kind, e.Msg, e.Expr)
}

func (e *QueryError) Unwrap() error {
	return e.Kind
}

// Range is the time range and resolution of a range query.
type Range struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// Sample is a single value at a point in time.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Series is a labelled sequence of samples ordered by timestamp.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}

// LabelString renders the labels the way Prometheus prints label sets.
func (s Series) LabelString() string {
	ls := make(model.LabelSet, len(s.Labels))
	for k, v := range s.Labels {
		ls[model.LabelName(k)] = model.LabelValue(v)
	}
	return ls.String()
}

// Matrix is the result of a range query.
type Matrix []Series

// Sum adds up all series sample by sample, keyed on the timestamp.
func (m Matrix) Sum() []Sample {
	if len(m) == 1 {
		return m[0].Samples
	}

	sums := make(map[int64]float64)
	for _, s := range m {
		for _, sample := range s.Samples {
			sums[sample.Timestamp.UnixMilli()] += sample.Value
		}
	}

	out := make([]Sample, 0, len(sums))
	for ts, v := range sums {
		out = append(out, Sample{Timestamp: time.UnixMilli(ts).UTC(), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
