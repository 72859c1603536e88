package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Target types understood by the prober factory.
const (
	TypeXUI        = "xui"
	TypePrometheus = "prometheus"
	TypeHTTP       = "http"
)

// Target describes one monitored server.
type Target struct {
	// Name is the unique identity of the target. It becomes the "target"
	// label on every exported series.
	Name string `yaml:"name"`

	// Type is the probe protocol: xui | prometheus | http.
	Type string `yaml:"type"`

	// BaseURL is the full root URL of the server, e.g.
	// https://panel.example.com:2053/secret-path. When set it takes
	// precedence over Scheme/Host/Port/BasePath.
	BaseURL string `yaml:"base_url"`

	// Scheme, Host, Port and BasePath describe the server when BaseURL is empty.
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`

	// Path is the request path for http targets (default "/") and the
	// metrics path for prometheus targets (default "/metrics").
	Path string `yaml:"path"`

	// Metrics lists the metric families a prometheus target reports.
	// Each becomes one measurement holding the sum of the family's samples.
	Metrics []string `yaml:"metrics"`

	// Auth configures how the agent authenticates to this target.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// PollInterval is the fixed rate at which the target is probed.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds a single probe attempt. Must be below PollInterval.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of immediate re-attempts after a failed probe
	// within the same tick. Nil means zero.
	Retries *int `yaml:"retries"`
}

// MaxRetries returns the configured retry count, zero when unset.
func (t Target) MaxRetries() int {
	if t.Retries == nil {
		return 0
	}
	return *t.Retries
}

// URL returns the root URL of the target without a trailing slash.
func (t Target) URL() string {
	if t.BaseURL != "" {
		return strings.TrimRight(t.BaseURL, "/")
	}
	scheme := t.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:   strings.TrimRight(t.BasePath, "/"),
	}
	return u.String()
}

// AuthConfig specifies the authentication mode for a target.
type AuthConfig struct {
	// Mode is one of: form | basic | bearer | apikey | mtls | none.
	// xui targets always log in with a form post and ignore other modes.
	Mode string `yaml:"mode"`

	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// Password is the literal password. Prefer PasswordEnv outside of tests.
	Password string `yaml:"password"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`

	// Bearer token fields, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Secret returns the password, resolving PasswordEnv when no literal is set.
func (a AuthConfig) Secret() string {
	if a.Password != "" {
		return a.Password
	}
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// 3x-ui panels are frequently served with self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}
