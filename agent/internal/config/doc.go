// Package config loads and validates the agent configuration file (config.yaml)
// and holds the Target Registry built from it.
//
// Top-level types:
//   - Config: listen, metrics_path, namespace, log_level, stale_measurements,
//     start_jitter, shutdown_timeout, defaults{poll_interval, timeout, retries},
//     targets []
//   - Target: name (identity), type (xui|prometheus|http), base_url or
//     scheme/host/port/base_path, path, metrics, auth, tls, and the polling
//     policy poll_interval / timeout / retries
//   - AuthConfig: mode (form|basic|bearer|apikey|mtls|none), username,
//     password / password_env, token_env, header + key_env, cert/key/ca files;
//     Secret(), Token() and Key() resolve values from environment variables
//   - Registry: the validated, immutable target list in declaration order
//   - ValidationError: names the offending target index, identity and field
//
// Load(path) reads the YAML file (unknown keys rejected), applies defaults
// (listen :8000, /metrics, 30s interval, 10s timeout), validates the
// agent-wide fields, then builds the Registry with NewRegistry, which fails
// fast on the first malformed target: empty list, duplicate or malformed
// identity, bad address, unknown type or auth mode, non-positive interval or
// timeout, or timeout >= interval.
//
// Watch(ctx, path, onChange) uses fsnotify to report edits to the file. The
// registry is never swapped at runtime; the callback lets the agent log
// whether the edited file would be accepted on the next restart.
package config
