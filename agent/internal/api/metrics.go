package api

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	panicRecoveries prometheus.Counter
	renderFailures  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelwatch_agent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panelwatch_agent_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "panelwatch_agent_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		panicRecoveries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "panelwatch_agent_http_panic_recoveries_total",
				Help: "Total number of panics recovered in HTTP handlers",
			},
		),
		renderFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "panelwatch_agent_render_failures_total",
				Help: "Targets left out of a scrape because their series could not be rendered",
			},
		),
	}
}

// routeLabel maps a request path onto a bounded set of label values.
func (h *Handler) routeLabel(path string) string {
	switch {
	case path == h.metricsPath,
		path == agentMetricsPath,
		path == healthzPath,
		path == apiHealthPath,
		path == apiTargetsPath:
		return path
	case strings.HasPrefix(path, apiTargetsPath+"/"):
		return apiTargetsPath + "/{name}"
	default:
		return "other"
	}
}
