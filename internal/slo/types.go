package slo

import (
	"encoding/json"
	"time"
)

// Objective is a service level objective: a target success ratio over a
// rolling window, measured by an indicator.
type Objective struct {
	Name        string
	Namespace   string
	Description string
	Target      float64
	Window      time.Duration
	// Config is the raw definition the objective was created from. The engine
	// never interprets it.
	Config    string
	Indicator Indicator
}

// IndicatorKind names the variant held by an Indicator.
type IndicatorKind string

const (
	KindUnknown   IndicatorKind = ""
	KindRatio     IndicatorKind = "ratio"
	KindLatency   IndicatorKind = "latency"
	KindBoolGauge IndicatorKind = "boolGauge"
)

// Indicator describes how good and bad events are measured. Exactly one of
// the fields is set.
type Indicator struct {
	Ratio     *RatioIndicator     `json:"ratio,omitempty" yaml:"ratio,omitempty"`
	Latency   *LatencyIndicator   `json:"latency,omitempty" yaml:"latency,omitempty"`
	BoolGauge *BoolGaugeIndicator `json:"boolGauge,omitempty" yaml:"boolGauge,omitempty"`
}

// RatioIndicator counts errors and total events with two PromQL expressions.
// Both may use the {{window}} placeholder for the range selector.
type RatioIndicator struct {
	Errors string `json:"errors" yaml:"errors"`
	Total  string `json:"total" yaml:"total"`
}

// LatencyIndicator treats requests slower than Threshold (seconds) as bad,
// based on a Prometheus histogram named Metric.
type LatencyIndicator struct {
	Metric     string   `json:"metric" yaml:"metric"`
	Selector   string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	Threshold  float64  `json:"threshold" yaml:"threshold"`
	Percentile float64  `json:"percentile,omitempty" yaml:"percentile,omitempty"`
	Grouping   []string `json:"grouping,omitempty" yaml:"grouping,omitempty"`
}

// BoolGaugeIndicator samples a gauge that is 1 when healthy and 0 otherwise.
type BoolGaugeIndicator struct {
	Metric   string   `json:"metric" yaml:"metric"`
	Selector string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	Grouping []string `json:"grouping,omitempty" yaml:"grouping,omitempty"`
}

// Kind returns the variant set on the indicator, or KindUnknown when zero or
// more than one variant is set.
func (i Indicator) Kind() IndicatorKind {
	kind := KindUnknown
	set := 0
	if i.Ratio != nil {
		kind = KindRatio
		set++
	}
	if i.Latency != nil {
		kind = KindLatency
		set++
	}
	if i.BoolGauge != nil {
		kind = KindBoolGauge
		set++
	}
	if set != 1 {
		return KindUnknown
	}
	return kind
}

// Clone returns a deep copy of the objective.
func (o Objective) Clone() Objective {
	c := o
	if o.Indicator.Ratio != nil {
		r := *o.Indicator.Ratio
		c.Indicator.Ratio = &r
	}
	if o.Indicator.Latency != nil {
		l := *o.Indicator.Latency
		l.Grouping = append([]string(nil), o.Indicator.Latency.Grouping...)
		c.Indicator.Latency = &l
	}
	if o.Indicator.BoolGauge != nil {
		b := *o.Indicator.BoolGauge
		b.Grouping = append([]string(nil), o.Indicator.BoolGauge.Grouping...)
		c.Indicator.BoolGauge = &b
	}
	return c
}

// SameBudget reports whether both objectives share target and window, i.e.
// whether switching between them keeps the current budget epoch.
func (o Objective) SameBudget(other Objective) bool {
	return o.Target == other.Target && o.Window == other.Window
}

// objectiveJSON is the wire form; window is carried in milliseconds.
type objectiveJSON struct {
	Name        string    `json:"name"`
	Namespace   string    `json:"namespace"`
	Description string    `json:"description"`
	Target      float64   `json:"target"`
	Window      int64     `json:"window"`
	Config      string    `json:"config"`
	Indicator   Indicator `json:"indicator"`
}

// MarshalJSON implements json.Marshaler
func (o Objective) MarshalJSON() ([]byte, error) {
	return json.Marshal(objectiveJSON{
		Name:        o.Name,
		Namespace:   o.Namespace,
		Description: o.Description,
		Target:      o.Target,
		Window:      o.Window.Milliseconds(),
		Config:      o.Config,
		Indicator:   o.Indicator,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Objective) UnmarshalJSON(data []byte) error {
	var w objectiveJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Objective{
		Name:        w.Name,
		Namespace:   w.Namespace,
		Description: w.Description,
		Target:      w.Target,
		Window:      time.Duration(w.Window) * time.Millisecond,
		Config:      w.Config,
		Indicator:   w.Indicator,
	}
	return nil
}

// File is the YAML document an objective is declared in.
type File struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata contains objective identity
type Metadata struct {
	Name        string `yaml:"name"`
	Namespace   string `yaml:"namespace,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Spec contains the objective definition
type Spec struct {
	Target    float64   `yaml:"target"`
	Window    string    `yaml:"window"`
	Indicator Indicator `yaml:"indicator"`
}

// ObjectiveWithFile pairs an objective with its source file path
type ObjectiveWithFile struct {
	Objective Objective
	File      string
}

// ValidationError represents a validation error for a specific file. Name
// is the metadata.name the file declares, when it could be read.
type ValidationError struct {
	File    string
	Name    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
