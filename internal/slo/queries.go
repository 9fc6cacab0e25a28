package slo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowPlaceholder is substituted with the evaluation window in ratio
// indicator expressions.
const WindowPlaceholder = "{{window}}"

// ErrorsQuery returns the expression counting bad events over window.
func (o Objective) ErrorsQuery(window time.Duration) string {
	w := FormatDuration(window)
	switch o.Indicator.Kind() {
	case KindRatio:
		return substituteWindow(o.Indicator.Ratio.Errors, w)
	case KindLatency:
		l := o.Indicator.Latency
		return fmt.Sprintf("sum(increase(%s[%s])) - sum(increase(%s[%s]))",
			selector(l.Metric+"_count", l.Selector), w,
			selector(l.Metric+"_bucket", l.Selector, `le="`+formatLe(l.Threshold)+`"`), w)
	case KindBoolGauge:
		b := o.Indicator.BoolGauge
		s := selector(b.Metric, b.Selector)
		return fmt.Sprintf("sum(count_over_time(%s[%s])) - sum(sum_over_time(%s[%s]))", s, w, s, w)
	}
	return ""
}

// TotalQuery returns the expression counting all events over window.
func (o Objective) TotalQuery(window time.Duration) string {
	w := FormatDuration(window)
	switch o.Indicator.Kind() {
	case KindRatio:
		return substituteWindow(o.Indicator.Ratio.Total, w)
	case KindLatency:
		l := o.Indicator.Latency
		return fmt.Sprintf("sum(increase(%s[%s]))", selector(l.Metric+"_count", l.Selector), w)
	case KindBoolGauge:
		b := o.Indicator.BoolGauge
		return fmt.Sprintf("sum(count_over_time(%s[%s]))", selector(b.Metric, b.Selector), w)
	}
	return ""
}

// RequestsRangeQuery returns the per-series request rate used by RED graphs.
func (o Objective) RequestsRangeQuery(rate time.Duration) string {
	r := FormatDuration(rate)
	switch o.Indicator.Kind() {
	case KindRatio:
		return substituteWindow(o.Indicator.Ratio.Total, r)
	case KindLatency:
		l := o.Indicator.Latency
		return fmt.Sprintf("%s(rate(%s[%s]))", sumBy(l.Grouping), selector(l.Metric+"_count", l.Selector), r)
	case KindBoolGauge:
		b := o.Indicator.BoolGauge
		return fmt.Sprintf("%s(count_over_time(%s[%s]))", sumBy(b.Grouping), selector(b.Metric, b.Selector), r)
	}
	return ""
}

// ErrorsRangeQuery returns the per-series error rate used by RED graphs.
func (o Objective) ErrorsRangeQuery(rate time.Duration) string {
	r := FormatDuration(rate)
	switch o.Indicator.Kind() {
	case KindRatio:
		return substituteWindow(o.Indicator.Ratio.Errors, r)
	case KindLatency:
		l := o.Indicator.Latency
		sum := sumBy(l.Grouping)
		return fmt.Sprintf("%s(rate(%s[%s])) - %s(rate(%s[%s]))",
			sum, selector(l.Metric+"_count", l.Selector), r,
			sum, selector(l.Metric+"_bucket", l.Selector, `le="`+formatLe(l.Threshold)+`"`), r)
	case KindBoolGauge:
		b := o.Indicator.BoolGauge
		sum := sumBy(b.Grouping)
		s := selector(b.Metric, b.Selector)
		return fmt.Sprintf("%s(count_over_time(%s[%s])) - %s(sum_over_time(%s[%s]))", sum, s, r, sum, s, r)
	}
	return ""
}

// DurationRangeQuery returns the latency percentile expression. Only latency
// indicators have one.
func (o Objective) DurationRangeQuery(rate time.Duration) (string, bool) {
	if o.Indicator.Kind() != KindLatency {
		return "", false
	}
	l := o.Indicator.Latency
	p := l.Percentile
	if p == 0 {
		p = DefaultPercentile
	}
	by := append([]string{"le"}, l.Grouping...)
	return fmt.Sprintf("histogram_quantile(%s, sum by (%s) (rate(%s[%s])))",
		strconv.FormatFloat(p, 'g', -1, 64), strings.Join(by, ", "),
		selector(l.Metric+"_bucket", l.Selector), FormatDuration(rate)), true
}

// DefaultPercentile is used by latency indicators that leave it unset.
const DefaultPercentile = 0.99

// substituteWindow replaces {{window}} placeholder with actual window value
func substituteWindow(query string, window string) string {
	return strings.ReplaceAll(query, WindowPlaceholder, window)
}

func selector(metric string, matchers ...string) string {
	var parts []string
	for _, m := range matchers {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	if len(parts) == 0 {
		return metric
	}
	return metric + "{" + strings.Join(parts, ",") + "}"
}

func sumBy(grouping []string) string {
	if len(grouping) == 0 {
		return "sum"
	}
	return "sum by (" + strings.Join(grouping, ", ") + ") "
}

// formatLe matches how client libraries render histogram bucket bounds.
func formatLe(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
