// Package window derives the time ranges an objective is evaluated over: the
// rolling compliance window and the ladder of short/long burn rate windows.
package window

import (
	"time"
)

// BaseWindow is the objective window the default ladder is tuned for.
const BaseWindow = 28 * 24 * time.Hour

// Interval is a closed time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Active returns the rolling window [now-window, now].
func Active(window time.Duration, now time.Time) Interval {
	return Interval{Start: now.Add(-window), End: now}
}

// Severity of a burn rate alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities, lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Rung is one short/long window pair of the alerting ladder. It fires when
// the burn rate over both windows exceeds Factor.
type Rung struct {
	Short    time.Duration
	Long     time.Duration
	Factor   float64
	Severity Severity
	For      time.Duration
}

// Ladder is an ordered list of rungs, innermost first.
type Ladder []Rung

// DefaultRungs returns the ladder used when none is configured.
func DefaultRungs() Ladder {
	return Ladder{
		{Short: 5 * time.Minute, Long: time.Hour, Factor: 14, Severity: SeverityCritical, For: 2 * time.Minute},
		{Short: 30 * time.Minute, Long: 6 * time.Hour, Factor: 14, Severity: SeverityCritical, For: 15 * time.Minute},
		{Short: 2 * time.Hour, Long: 24 * time.Hour, Factor: 6, Severity: SeverityWarning, For: time.Hour},
		{Short: 6 * time.Hour, Long: 3 * 24 * time.Hour, Factor: 1, Severity: SeverityWarning, For: 3 * time.Hour},
	}
}

// Windows returns the distinct window durations used by the ladder.
func (l Ladder) Windows() []time.Duration {
	seen := make(map[time.Duration]struct{}, 2*len(l))
	var out []time.Duration
	for _, r := range l {
		for _, d := range []time.Duration{r.Short, r.Long} {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// Compute scales rungs, defined for BaseWindow, to the objective window.
// Durations are scaled by window/BaseWindow and rounded to seconds, long
// windows never exceed the objective window, and rungs whose short window
// falls below minShort are dropped. If that drops every rung of the most
// severe level, the widest of them is kept with its short window raised to
// minShort. A window shorter than the smallest long window, or a ladder left
// empty, collapses to a single rung spanning the whole window.
func Compute(window time.Duration, rungs Ladder, minShort time.Duration) Ladder {
	if window <= 0 {
		return nil
	}
	if len(rungs) == 0 {
		rungs = DefaultRungs()
	}

	scale := float64(window) / float64(BaseWindow)

	smallest := rungs[0].Long
	for _, r := range rungs[1:] {
		if r.Long < smallest {
			smallest = r.Long
		}
	}
	if window < smallest {
		return collapse(window, rungs[0], scale)
	}

	ladder := make(Ladder, 0, len(rungs))
	var dropped *Rung
	for _, r := range rungs {
		short := scaleDuration(r.Short, scale)
		long := scaleDuration(r.Long, scale)
		if long > window {
			ratio := float64(r.Long) / float64(r.Short)
			long = window
			short = scaleDuration(window, 1/ratio)
		}
		rung := Rung{
			Short:    short,
			Long:     long,
			Factor:   r.Factor,
			Severity: r.Severity,
			For:      scaleDuration(r.For, scale),
		}
		if short <= 0 || short < minShort {
			if dropped == nil || moreUrgent(rung, *dropped) {
				dropped = &rung
			}
			continue
		}
		ladder = append(ladder, rung)
	}

	if len(ladder) == 0 {
		return collapse(window, rungs[0], scale)
	}
	if dropped != nil && dropped.Severity.Rank() < ladder.mostSevere() {
		dropped.Short = minShort
		if dropped.Long < minShort {
			dropped.Long = minShort
		}
		ladder = append(Ladder{*dropped}, ladder...)
	}
	return ladder
}

// moreUrgent prefers the more severe rung, then the wider one.
func moreUrgent(a, b Rung) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() < b.Severity.Rank()
	}
	return a.Short > b.Short
}

func (l Ladder) mostSevere() int {
	rank := l[0].Severity.Rank()
	for _, r := range l[1:] {
		if r.Severity.Rank() < rank {
			rank = r.Severity.Rank()
		}
	}
	return rank
}

func collapse(window time.Duration, r Rung, scale float64) Ladder {
	forDuration := scaleDuration(r.For, scale)
	if forDuration > window {
		forDuration = window
	}
	return Ladder{{
		Short:    window,
		Long:     window,
		Factor:   r.Factor,
		Severity: r.Severity,
		For:      forDuration,
	}}
}

func scaleDuration(d time.Duration, scale float64) time.Duration {
	if scale == 1 {
		return d
	}
	return time.Duration(float64(d) * scale).Round(time.Second)
}

// RoundUp rounds t up to a multiple of d. Times already on a multiple are
// returned unchanged.
func RoundUp(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	n := t.Truncate(d)
	if n.Before(t) {
		return n.Add(d)
	}
	return n
}
