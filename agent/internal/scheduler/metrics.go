package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/panelwatch/panelwatch/agent/internal/prober"
)

// metrics instruments the scheduler itself. They are served on the agent's
// self-metrics path, separate from the target exposition.
type metrics struct {
	probeDuration *prometheus.HistogramVec
	probeAttempts *prometheus.CounterVec
	loopsRunning  prometheus.Gauge
	recordErrors  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		probeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panelwatch_agent_probe_duration_seconds",
				Help:    "Wall time of individual probe attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"target", "outcome"},
		),
		probeAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelwatch_agent_probe_attempts_total",
				Help: "Probe attempts, including retries, by outcome",
			},
			[]string{"target", "outcome"}, // success or a failure kind
		),
		loopsRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "panelwatch_agent_scheduler_loops",
				Help: "Number of per-target poll loops currently running",
			},
		),
		recordErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "panelwatch_agent_record_errors_total",
				Help: "Tick outcomes the store refused to record",
			},
		),
	}
}

func outcome(res prober.Result) string {
	if res.Success() {
		return "success"
	}
	return string(res.Kind)
}
