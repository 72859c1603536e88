// Package prober performs one health/status check against a target and
// returns a Result: either a success carrying named measurements or a
// failure classified as unreachable, timeout, malformed_response or
// auth_rejected.
//
// Implemented probers: 3x-ui panels (xui.go), Prometheus text endpoints
// (prometheus.go) and plain HTTP health checks (http.go). Factory:
// New(config.Target) returns the correct Prober.
//
// Authentication (basic, bearer, API key, mTLS) is handled by the shared
// authRoundTripper in base.go; xui targets log in with a form post on every
// probe. Probers never retry; retry pacing belongs to the scheduler.
package prober
