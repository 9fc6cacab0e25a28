package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"

	"github.com/samijaber1/aegis-objectives/internal/window"
)

// Config holds server configuration
type Config struct {
	// Server settings
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Objective settings; with a directory configured it is the source of
	// truth and is re-read every ReloadInterval
	ObjectiveDirectory string   `yaml:"objectiveDirectory"`
	ReloadInterval     Duration `yaml:"reloadInterval"`
	DatabasePath       string   `yaml:"databasePath"`

	// Metrics adapter settings
	AdapterType      string   `yaml:"adapter"` // "prometheus" or "synthetic"
	PrometheusURL    string   `yaml:"prometheusURL"`
	SyntheticFixture string   `yaml:"syntheticFixture"`
	QueryTimeout     Duration `yaml:"queryTimeout"`
	MaxConcurrency   int64    `yaml:"maxConcurrency"`
	CacheTTL         Duration `yaml:"cacheTTL"` // 0 disables the query cache

	// Evaluation settings
	RequestTimeout Duration       `yaml:"requestTimeout"`
	Alignment      Duration       `yaml:"alignment"`
	Alerting       AlertingConfig `yaml:"alerting"`

	// Observability
	LogLevel     string `yaml:"logLevel"`
	LogFormat    string `yaml:"logFormat"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`

	// Operational settings
	GracefulShutdownTimeout Duration `yaml:"gracefulShutdownTimeout"`
}

// AlertingConfig holds the burn rate ladder, defined for a 28d window
type AlertingConfig struct {
	MinShortWindow Duration     `yaml:"minShortWindow"`
	Rungs          []RungConfig `yaml:"rungs"`
}

// RungConfig is one short/long window pair of the ladder
type RungConfig struct {
	Short    Duration `yaml:"short"`
	Long     Duration `yaml:"long"`
	Factor   float64  `yaml:"factor"`
	Severity string   `yaml:"severity"`
	For      Duration `yaml:"for"`
}

// Ladder returns the configured rungs, or the default ladder when none are
// configured
func (a AlertingConfig) Ladder() window.Ladder {
	if len(a.Rungs) == 0 {
		return window.DefaultRungs()
	}
	ladder := make(window.Ladder, 0, len(a.Rungs))
	for _, r := range a.Rungs {
		ladder = append(ladder, window.Rung{
			Short:    time.Duration(r.Short),
			Long:     time.Duration(r.Long),
			Factor:   r.Factor,
			Severity: window.Severity(r.Severity),
			For:      time.Duration(r.For),
		})
	}
	return ladder
}

// Duration is a time.Duration read from Prometheus style strings such as
// "30s" or "28d"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := model.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return model.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.ObjectiveDirectory != "" && c.ReloadInterval <= 0 {
		return fmt.Errorf("reload interval must be positive")
	}

	if c.AdapterType != "prometheus" && c.AdapterType != "synthetic" {
		return fmt.Errorf("adapter type must be 'prometheus' or 'synthetic'")
	}

	if c.AdapterType == "prometheus" && c.PrometheusURL == "" {
		return fmt.Errorf("Prometheus URL required when adapter type is 'prometheus'")
	}

	if c.QueryTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("query and request timeouts must be positive")
	}

	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}

	if c.CacheTTL < 0 || c.Alignment < 0 {
		return fmt.Errorf("cache TTL and alignment must not be negative")
	}

	for i, r := range c.Alerting.Rungs {
		if r.Short <= 0 || r.Long < r.Short {
			return fmt.Errorf("alerting rung %d: need 0 < short <= long", i)
		}
		if !(r.Factor > 0) {
			return fmt.Errorf("alerting rung %d: factor must be positive", i)
		}
		if window.Severity(r.Severity).Rank() > window.SeverityWarning.Rank() {
			return fmt.Errorf("alerting rung %d: severity must be 'critical' or 'warning'", i)
		}
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		Host:                    "0.0.0.0",
		ReloadInterval:          Duration(time.Minute),
		AdapterType:             "synthetic",
		QueryTimeout:            Duration(10 * time.Second),
		MaxConcurrency:          10,
		CacheTTL:                Duration(time.Minute),
		RequestTimeout:          Duration(15 * time.Second),
		Alignment:               Duration(30 * time.Second),
		Alerting:                AlertingConfig{MinShortWindow: Duration(time.Minute)},
		LogLevel:                "info",
		LogFormat:               "json",
		GracefulShutdownTimeout: Duration(30 * time.Second),
	}
}

// LoadFile reads a YAML configuration file over the defaults
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
