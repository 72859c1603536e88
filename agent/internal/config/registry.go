package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/prometheus/common/model"
)

var (
	// identityRE restricts target names to characters that read cleanly as
	// label values and in log lines.
	identityRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)

	namespaceRE = model.LabelNameRE

	metricsPathRE = regexp.MustCompile(`^(/[A-Za-z0-9._~-]+)+$`)
)

// ValidationError reports the first offending field found in a configuration.
// Index is -1 for agent-wide fields.
type ValidationError struct {
	Index  int
	Target string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	case e.Target == "":
		return fmt.Sprintf("targets[%d]: %s: %s", e.Index, e.Field, e.Reason)
	default:
		return fmt.Sprintf("targets[%d] %q: %s: %s", e.Index, e.Target, e.Field, e.Reason)
	}
}

// Registry is the validated, immutable list of monitored targets.
type Registry struct {
	targets []Target
	byName  map[string]int
}

// NewRegistry validates targets and returns a Registry holding them in
// declaration order. It fails on the first violation with a *ValidationError
// naming the offending target and field.
func NewRegistry(targets []Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, globalErr("targets", "at least one target is required")
	}

	r := &Registry{
		targets: make([]Target, len(targets)),
		byName:  make(map[string]int, len(targets)),
	}
	for i, t := range targets {
		if err := validateTarget(i, t); err != nil {
			return nil, err
		}
		if prev, dup := r.byName[t.Name]; dup {
			return nil, &ValidationError{
				Index:  i,
				Target: t.Name,
				Field:  "name",
				Reason: fmt.Sprintf("duplicate identity (first declared at targets[%d])", prev),
			}
		}
		r.byName[t.Name] = i
		r.targets[i] = t
	}
	return r, nil
}

// Targets returns a copy of the targets in declaration order.
func (r *Registry) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Names returns the target identities in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.targets))
	for i, t := range r.targets {
		out[i] = t.Name
	}
	return out
}

// Lookup returns the target with the given identity.
func (r *Registry) Lookup(name string) (Target, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Target{}, false
	}
	return r.targets[i], true
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

func validateTarget(i int, t Target) error {
	fail := func(field, reason string) error {
		return &ValidationError{Index: i, Target: t.Name, Field: field, Reason: reason}
	}

	if t.Name == "" {
		return fail("name", "is required")
	}
	if !identityRE.MatchString(t.Name) {
		return fail("name", "must match "+identityRE.String())
	}

	switch t.Type {
	case TypeXUI, TypePrometheus, TypeHTTP:
	default:
		return fail("type", fmt.Sprintf("unknown type %q", t.Type))
	}

	if err := validateAddress(t); err != nil {
		return fail(err.field, err.reason)
	}

	switch t.Auth.Mode {
	case "form", "basic", "bearer", "apikey", "mtls", "none", "":
	default:
		return fail("auth.mode", fmt.Sprintf("unknown auth mode %q", t.Auth.Mode))
	}
	if t.Type == TypeXUI {
		if t.Auth.Username == "" {
			return fail("auth.username", "is required for xui targets")
		}
		if t.Auth.Secret() == "" {
			return fail("auth.password", "is required for xui targets (set password or password_env)")
		}
	}
	switch t.Auth.Mode {
	case "basic":
		if t.Auth.Username == "" {
			return fail("auth.username", "is required for basic auth")
		}
	case "apikey":
		if t.Auth.Header == "" {
			return fail("auth.header", "is required for apikey auth")
		}
	case "mtls":
		if t.Auth.CertFile == "" || t.Auth.KeyFile == "" {
			return fail("auth.cert_file", "cert_file and key_file are required for mtls")
		}
	}

	if t.PollInterval <= 0 {
		return fail("poll_interval", "must be positive")
	}
	if t.Timeout <= 0 {
		return fail("timeout", "must be positive")
	}
	if t.Timeout >= t.PollInterval {
		return fail("timeout", fmt.Sprintf("%s must be less than poll_interval %s", t.Timeout, t.PollInterval))
	}
	if t.MaxRetries() < 0 {
		return fail("retries", "must not be negative")
	}

	for _, name := range t.Metrics {
		if !model.MetricNameRE.MatchString(name) {
			return fail("metrics", fmt.Sprintf("%q is not a valid metric name", name))
		}
		if ReservedMeasurement(name) {
			return fail("metrics", fmt.Sprintf("%q is reserved by the agent's own series", name))
		}
	}
	if len(t.Metrics) > 0 && t.Type != TypePrometheus {
		return fail("metrics", "only prometheus targets select metric families")
	}
	return nil
}

type addressError struct {
	field, reason string
}

func validateAddress(t Target) *addressError {
	if t.BaseURL != "" {
		u, err := url.Parse(t.BaseURL)
		if err != nil {
			return &addressError{"base_url", err.Error()}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &addressError{"base_url", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)}
		}
		if u.Hostname() == "" {
			return &addressError{"base_url", "host is required"}
		}
		return nil
	}

	if t.Host == "" {
		return &addressError{"host", "host or base_url is required"}
	}
	if strings.ContainsAny(t.Host, "/ ?#@") {
		return &addressError{"host", fmt.Sprintf("%q is not a bare host name", t.Host)}
	}
	if t.Port < 1 || t.Port > 65535 {
		return &addressError{"port", fmt.Sprintf("%d is outside 1-65535", t.Port)}
	}
	switch t.Scheme {
	case "", "http", "https":
	default:
		return &addressError{"scheme", fmt.Sprintf("must be http or https, got %q", t.Scheme)}
	}
	return nil
}
