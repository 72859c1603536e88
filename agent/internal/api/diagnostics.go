package api

import (
	"fmt"
	"sort"

	"github.com/panelwatch/panelwatch/agent/internal/prober"
	"github.com/panelwatch/panelwatch/agent/internal/store"
)

// DiagnosticHint is one human-readable finding about a target.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number the hint is about (e.g. days left).
	Value *float64 `json:"value,omitempty"`
}

const (
	certCriticalDays = 7
	certWarningDays  = 30
)

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2}

var failureDetail = map[prober.Kind]string{
	prober.KindUnreachable: "The agent could not connect. Check that the host resolves, " +
		"the port is open from the agent's network, and the panel service is running.",
	prober.KindTimeout: "The target accepted the request but did not answer within the probe timeout. " +
		"The panel may be overloaded, or the timeout is too tight for its response time.",
	prober.KindMalformedResponse: "The target answered with something the agent could not interpret. " +
		"The base URL may point at the wrong service or path, or the panel version changed its API.",
	prober.KindAuthRejected: "The target refused the configured credentials. " +
		"Check the username and the password environment variable, and whether the panel account is locked.",
	prober.KindInternal: "The probe crashed inside the agent. The error message has the details; " +
		"this is an agent bug worth reporting.",
}

// computeDiagnostics derives hints from one entry, critical first.
func computeDiagnostics(e store.Entry) []DiagnosticHint {
	hints := make([]DiagnosticHint, 0)

	if e.Pending() {
		return []DiagnosticHint{{
			Key:    "warming_up",
			Level:  "info",
			Title:  "Waiting for first probe",
			Detail: "The agent has not completed a probe of this target yet. No action needed.",
		}}
	}

	if !e.Up() {
		level := "warning"
		if e.ConsecutiveFailures >= 3 {
			level = "critical"
		}
		v := float64(e.ConsecutiveFailures)
		hints = append(hints, DiagnosticHint{
			Key:    "probe_failed",
			Level:  level,
			Title:  fmt.Sprintf("Probe failing: %s", e.Result.Kind),
			Detail: fmt.Sprintf("%s Last error: %q.", failureDetail[e.Result.Kind], e.Result.Message),
			Value:  &v,
		})
	}

	if e.Probes >= 5 && e.UptimeRatio < 0.9 && e.Up() {
		v := e.UptimeRatio * 100
		hints = append(hints, DiagnosticHint{
			Key:   "flapping",
			Level: "warning",
			Title: fmt.Sprintf("%.0f%% recent uptime", v),
			Detail: "The target is up now but failed several of its recent probes. " +
				"Intermittent failures usually point at network instability or an overloaded panel.",
			Value: &v,
		})
	}

	if e.Overruns > 0 {
		v := float64(e.Overruns)
		hints = append(hints, DiagnosticHint{
			Key:   "overruns",
			Level: "info",
			Title: fmt.Sprintf("%d late ticks", e.Overruns),
			Detail: "Some probes (including retries) ran longer than the poll interval, so the next probe " +
				"started late. Lower the timeout or retries, or raise poll_interval.",
			Value: &v,
		})
	}

	if h, ok := certHint(e); ok {
		hints = append(hints, h)
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

// certHint reports a TLS certificate that is close to or past expiry, based
// on the last successful probe.
func certHint(e store.Entry) (DiagnosticHint, bool) {
	if e.LastSuccess == nil {
		return DiagnosticHint{}, false
	}
	for _, m := range e.LastSuccess.Measurements {
		if m.Name != "tls_cert_expiry_days" {
			continue
		}
		days := m.Value
		switch {
		case days <= 0:
			return DiagnosticHint{
				Key: "cert_expired", Level: "critical", Title: "TLS certificate expired",
				Detail: "The panel's TLS certificate has expired. Browsers and strict clients will refuse to connect.",
				Value:  &days,
			}, true
		case days <= certCriticalDays:
			return DiagnosticHint{
				Key: "cert_expiring", Level: "critical", Title: fmt.Sprintf("Cert expires in %.0f days", days),
				Detail: "The panel's TLS certificate expires within a week. Renew it now.",
				Value:  &days,
			}, true
		case days <= certWarningDays:
			return DiagnosticHint{
				Key: "cert_expiring", Level: "warning", Title: fmt.Sprintf("Cert expires in %.0f days", days),
				Detail: "The panel's TLS certificate expires within 30 days. Check that automatic renewal is working.",
				Value:  &days,
			}, true
		}
	}
	return DiagnosticHint{}, false
}
