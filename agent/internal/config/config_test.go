package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
listen: ":9100"
metrics_path: /stats
namespace: xui
defaults:
  poll_interval: 20s
  timeout: 4s
  retries: 1
targets:
  - name: de-1
    type: xui
    base_url: "https://de-1.example.com:2053/secret/"
    auth:
      username: admin
      password: hunter2
  - name: node
    type: prometheus
    host: 10.0.0.5
    port: 9100
    metrics: [node_load1]
    poll_interval: 5s
    timeout: 1s
    retries: 0
`
	cfg := loadFromString(t, yaml)

	if cfg.Listen != ":9100" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.MetricsPath != "/stats" {
		t.Errorf("metrics_path: got %q", cfg.MetricsPath)
	}
	reg := cfg.Registry()
	if reg.Len() != 2 {
		t.Fatalf("targets: got %d, want 2", reg.Len())
	}

	de, ok := reg.Lookup("de-1")
	if !ok {
		t.Fatal("Lookup(de-1): not found")
	}
	if de.PollInterval != 20*time.Second || de.Timeout != 4*time.Second {
		t.Errorf("de-1 policy: got %v/%v, want inherited 20s/4s", de.PollInterval, de.Timeout)
	}
	if de.MaxRetries() != 1 {
		t.Errorf("de-1 retries: got %d, want inherited 1", de.MaxRetries())
	}
	if got := de.URL(); got != "https://de-1.example.com:2053/secret" {
		t.Errorf("de-1 URL: got %q", got)
	}

	node, _ := reg.Lookup("node")
	if node.PollInterval != 5*time.Second || node.Timeout != time.Second {
		t.Errorf("node policy: got %v/%v", node.PollInterval, node.Timeout)
	}
	if node.MaxRetries() != 0 {
		t.Errorf("node retries: explicit 0 should win over default, got %d", node.MaxRetries())
	}
	if got := node.URL(); got != "http://10.0.0.5:9100" {
		t.Errorf("node URL: got %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
targets:
  - name: health
    type: http
    base_url: "http://localhost:8080"
`
	cfg := loadFromString(t, yaml)

	if cfg.Listen != DefaultListen {
		t.Errorf("default listen: got %q, want %q", cfg.Listen, DefaultListen)
	}
	if cfg.MetricsPath != DefaultMetricsPath {
		t.Errorf("default metrics_path: got %q", cfg.MetricsPath)
	}
	if cfg.Namespace != DefaultNamespace {
		t.Errorf("default namespace: got %q", cfg.Namespace)
	}
	if cfg.StaleMeasurements != StaleDrop {
		t.Errorf("default stale_measurements: got %q", cfg.StaleMeasurements)
	}
	tg := cfg.Registry().Targets()[0]
	if tg.PollInterval != DefaultPollInterval {
		t.Errorf("default poll_interval: got %v, want %v", tg.PollInterval, DefaultPollInterval)
	}
	if tg.Timeout != DefaultTimeout {
		t.Errorf("default timeout: got %v, want %v", tg.Timeout, DefaultTimeout)
	}
}

func TestLoad_EmptyNamespace(t *testing.T) {
	yaml := `
namespace: ""
targets:
  - name: health
    type: http
    base_url: "http://localhost:8080"
`
	cfg := loadFromString(t, yaml)
	if cfg.Namespace != "" {
		t.Errorf("namespace: got %q, want empty", cfg.Namespace)
	}
}

func TestLoad_InvalidNamespace(t *testing.T) {
	yaml := `
namespace: "9lives"
targets:
  - name: health
    type: http
    base_url: "http://localhost:8080"
`
	_, err := loadStringErr(t, yaml)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "namespace" {
		t.Fatalf("error: got %v, want namespace ValidationError", err)
	}
}

func TestReservedMeasurement(t *testing.T) {
	for _, name := range []string{FamilyUp, FamilyProbes, FamilyUptimeRatio, MeasurementLatency, MeasurementFamilies, MeasurementCertExpiry} {
		if !ReservedMeasurement(name) {
			t.Errorf("ReservedMeasurement(%q) = false, want true", name)
		}
	}
	if ReservedMeasurement("node_load1") {
		t.Error("ReservedMeasurement(node_load1) = true, want false")
	}
}

func TestLoad_DuplicateIdentity(t *testing.T) {
	yaml := `
targets:
  - name: dup
    type: http
    base_url: "http://a:1"
  - name: dup
    type: http
    base_url: "http://b:2"
`
	_, err := loadStringErr(t, yaml)
	if err == nil {
		t.Fatal("expected error for duplicate identity, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type: got %T, want *ValidationError", err)
	}
	if verr.Target != "dup" || verr.Field != "name" || verr.Index != 1 {
		t.Errorf("ValidationError: got %+v", verr)
	}
	if !strings.Contains(err.Error(), `"dup"`) {
		t.Errorf("error should name the identity: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantField string
	}{
		{
			name:      "no targets",
			yaml:      "listen: \":8000\"\n",
			wantField: "targets",
		},
		{
			name: "timeout not below interval",
			yaml: `
targets:
  - name: slow
    type: http
    base_url: "http://a:1"
    poll_interval: 5s
    timeout: 5s
`,
			wantField: "timeout",
		},
		{
			name: "negative interval",
			yaml: `
targets:
  - name: neg
    type: http
    base_url: "http://a:1"
    poll_interval: -1s
`,
			wantField: "poll_interval",
		},
		{
			name: "bad port",
			yaml: `
targets:
  - name: p
    type: http
    host: example.com
    port: 70000
`,
			wantField: "port",
		},
		{
			name: "bad scheme",
			yaml: `
targets:
  - name: s
    type: http
    base_url: "ftp://example.com"
`,
			wantField: "base_url",
		},
		{
			name: "malformed identity",
			yaml: `
targets:
  - name: "has space"
    type: http
    base_url: "http://a:1"
`,
			wantField: "name",
		},
		{
			name: "unknown type",
			yaml: `
targets:
  - name: mystery
    type: gopher
    base_url: "http://a:1"
`,
			wantField: "type",
		},
		{
			name: "unknown auth mode",
			yaml: `
targets:
  - name: m
    type: http
    base_url: "http://a:1"
    auth:
      mode: magictoken
`,
			wantField: "auth.mode",
		},
		{
			name: "xui without password",
			yaml: `
targets:
  - name: panel
    type: xui
    base_url: "http://a:1"
    auth:
      username: admin
`,
			wantField: "auth.password",
		},
		{
			name: "invalid metric family",
			yaml: `
targets:
  - name: prom
    type: prometheus
    base_url: "http://a:1"
    metrics: ["bad-name"]
`,
			wantField: "metrics",
		},
		{
			name: "metric family shadows status series",
			yaml: `
targets:
  - name: prom
    type: prometheus
    base_url: "http://a:1"
    metrics: [node_load1, target_up]
`,
			wantField: "metrics",
		},
		{
			name: "metric family shadows probe measurement",
			yaml: `
targets:
  - name: prom
    type: prometheus
    base_url: "http://a:1"
    metrics: [latency_seconds]
`,
			wantField: "metrics",
		},
		{
			name: "reserved metrics path",
			yaml: `
metrics_path: /healthz
targets:
  - name: h
    type: http
    base_url: "http://a:1"
`,
			wantField: "metrics_path",
		},
		{
			name: "metrics path with pattern syntax",
			yaml: `
metrics_path: "/{x}"
targets:
  - name: h
    type: http
    base_url: "http://a:1"
`,
			wantField: "metrics_path",
		},
		{
			name: "unknown stale policy",
			yaml: `
stale_measurements: forever
targets:
  - name: h
    type: http
    base_url: "http://a:1"
`,
			wantField: "stale_measurements",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type: got %T (%v), want *ValidationError", err, err)
			}
			if verr.Field != tc.wantField {
				t.Errorf("field: got %q, want %q (%v)", verr.Field, tc.wantField, err)
			}
		})
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `
targets:
  - name: h
    type: http
    base_url: "http://a:1"
    pol_interval: 5s
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for misspelled key, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_MultipleAuthModes(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		extra string
	}{
		{"basic", "basic", "username: u"},
		{"bearer", "bearer", "token_env: TOK"},
		{"apikey", "apikey", "header: X-Key"},
		{"none", "none", ""},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			yaml := `
targets:
  - name: src
    type: http
    base_url: "http://localhost:8888"
    auth:
      mode: "` + tc.mode + `"
      ` + tc.extra + `
`
			cfg := loadFromString(t, yaml)
			if got := cfg.Registry().Targets()[0].Auth.Mode; got != tc.mode {
				t.Errorf("auth mode: got %q, want %q", got, tc.mode)
			}
		})
	}
}

func TestAuthConfig_Secret(t *testing.T) {
	t.Setenv("TEST_PANEL_PASSWORD", "fromenv")

	a := AuthConfig{PasswordEnv: "TEST_PANEL_PASSWORD"}
	if got := a.Secret(); got != "fromenv" {
		t.Errorf("Secret() from env: got %q", got)
	}

	a.Password = "literal"
	if got := a.Secret(); got != "literal" {
		t.Errorf("Secret() literal should win: got %q", got)
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestRegistry_DeclarationOrder(t *testing.T) {
	targets := []Target{
		{Name: "c", Type: TypeHTTP, BaseURL: "http://c", PollInterval: time.Second, Timeout: time.Millisecond},
		{Name: "a", Type: TypeHTTP, BaseURL: "http://a", PollInterval: time.Second, Timeout: time.Millisecond},
		{Name: "b", Type: TypeHTTP, BaseURL: "http://b", PollInterval: time.Second, Timeout: time.Millisecond},
	}
	reg, err := NewRegistry(targets)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	got := strings.Join(reg.Names(), ",")
	if got != "c,a,b" {
		t.Errorf("Names(): got %q, want declaration order c,a,b", got)
	}

	// Mutating the returned slice must not leak into the registry.
	ts := reg.Targets()
	ts[0].Name = "mutated"
	if reg.Names()[0] != "c" {
		t.Error("Targets() returned a slice aliasing registry state")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Setenv("DE1_PANEL_PASSWORD", "x")
	t.Setenv("NL1_PANEL_PASSWORD", "y")

	cfg, err := Load(filepath.Join("..", "..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("config.example.yaml should load: %v", err)
	}
	if got := cfg.Registry().Names(); strings.Join(got, ",") != "de-1,nl-1,node-exporter,sub-service" {
		t.Errorf("example targets: got %v", got)
	}
}
