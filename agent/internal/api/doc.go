// Package api serves the agent's HTTP surface:
//
//	GET {metrics_path}         exposition text for all targets
//	GET /metrics/agent         the agent's own metrics
//	GET /healthz               agent liveness, independent of target health
//	GET /api/v1/health         up/down/pending counts
//	GET /api/v1/targets        status of every target
//	GET /api/v1/targets/{name} status of one target
//
// Everything is read-only: handlers take a fresh store snapshot per request
// and never block on probes. HEAD is accepted wherever GET is; any other
// method gets 405.
package api
