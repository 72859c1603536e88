package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen          = ":8000"
	DefaultMetricsPath     = "/metrics"
	DefaultNamespace       = "panelwatch"
	DefaultLogLevel        = "info"
	DefaultPollInterval    = 30 * time.Second
	DefaultTimeout         = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// Stale measurement policies. They decide what the exposition does with the
// last successful measurements of a target whose latest probe failed.
const (
	StaleDrop = "drop"
	StaleHold = "hold"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	// Listen is the address the scrape endpoint binds to (host:port).
	Listen string `yaml:"listen"`

	// MetricsPath is the HTTP path serving the exposition text.
	MetricsPath string `yaml:"metrics_path"`

	// Namespace prefixes every exported metric name. An explicit empty
	// namespace exports bare names such as user_upload_bytes.
	Namespace string `yaml:"namespace"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// StaleMeasurements is one of: drop | hold.
	StaleMeasurements string `yaml:"stale_measurements"`

	// StartJitter spreads the first probe of each target over [0, StartJitter).
	// Zero disables jitter and every target probes immediately at startup.
	StartJitter time.Duration `yaml:"start_jitter"`

	// ShutdownTimeout bounds how long the HTTP server drains on exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Defaults is the polling policy inherited by targets that omit it.
	Defaults PollPolicy `yaml:"defaults"`

	// Targets is the list of servers to monitor, in declaration order.
	Targets []Target `yaml:"targets"`

	registry *Registry
}

// PollPolicy holds the per-target polling parameters that may be defaulted.
type PollPolicy struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      *int          `yaml:"retries"`
}

// Registry returns the validated target registry built by Load.
func (c *Config) Registry() *Registry {
	return c.registry
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults; any validation failure
// is returned as a *ValidationError wrapped with the "config:" prefix.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. Unknown keys are rejected so a
// misspelled field fails startup instead of being silently ignored.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	reg, err := NewRegistry(cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.registry = reg

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Listen:            DefaultListen,
		MetricsPath:       DefaultMetricsPath,
		Namespace:         DefaultNamespace,
		LogLevel:          DefaultLogLevel,
		StaleMeasurements: StaleDrop,
		ShutdownTimeout:   DefaultShutdownTimeout,
		Defaults: PollPolicy{
			PollInterval: DefaultPollInterval,
			Timeout:      DefaultTimeout,
		},
	}
}

// applyDefaults copies the global polling policy into targets that omit it
// and normalises free-form string fields.
func applyDefaults(cfg *Config) {
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.PollInterval == 0 {
			t.PollInterval = cfg.Defaults.PollInterval
		}
		if t.Timeout == 0 {
			t.Timeout = cfg.Defaults.Timeout
		}
		if t.Retries == nil && cfg.Defaults.Retries != nil {
			r := *cfg.Defaults.Retries
			t.Retries = &r
		}
		t.Type = strings.ToLower(strings.TrimSpace(t.Type))
		t.Auth.Mode = strings.ToLower(strings.TrimSpace(t.Auth.Mode))
	}
	cfg.StaleMeasurements = strings.ToLower(strings.TrimSpace(cfg.StaleMeasurements))
}

// validate checks the agent-wide fields. Per-target checks live in NewRegistry.
func validate(cfg *Config) error {
	if cfg.Listen == "" {
		return globalErr("listen", "is required")
	}
	if !metricsPathRE.MatchString(cfg.MetricsPath) {
		return globalErr("metrics_path", fmt.Sprintf("%q must be an absolute path of plain segments", cfg.MetricsPath))
	}
	if reservedPath(cfg.MetricsPath) {
		return globalErr("metrics_path", fmt.Sprintf("%q is reserved by the agent", cfg.MetricsPath))
	}
	if cfg.Namespace != "" && !namespaceRE.MatchString(cfg.Namespace) {
		return globalErr("namespace", fmt.Sprintf("%q is not a valid metric name prefix", cfg.Namespace))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return globalErr("log_level", fmt.Sprintf("unknown level %q", cfg.LogLevel))
	}
	switch cfg.StaleMeasurements {
	case StaleDrop, StaleHold:
	default:
		return globalErr("stale_measurements", fmt.Sprintf("must be %q or %q, got %q", StaleDrop, StaleHold, cfg.StaleMeasurements))
	}
	if cfg.StartJitter < 0 {
		return globalErr("start_jitter", "must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		return globalErr("shutdown_timeout", "must be positive")
	}
	if cfg.Defaults.Retries != nil && *cfg.Defaults.Retries < 0 {
		return globalErr("defaults.retries", "must not be negative")
	}
	return nil
}

// reservedPath reports whether p collides with a route the agent always serves.
func reservedPath(p string) bool {
	switch p {
	case "/", "/healthz", "/metrics/agent", "/api", "/api/v1":
		return true
	}
	return strings.HasPrefix(p, "/api/")
}

func globalErr(field, reason string) *ValidationError {
	return &ValidationError{Index: -1, Field: field, Reason: reason}
}
