package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State        string `json:"state"` // ok | degraded | down | pending
	TargetCount  int    `json:"target_count"`
	UpCount      int    `json:"up_count"`
	DownCount    int    `json:"down_count"`
	PendingCount int    `json:"pending_count"`
	GeneratedAt  string `json:"generated_at"` // RFC3339
}

// TargetResponse is one entry in GET /api/v1/targets.
type TargetResponse struct {
	Name                string            `json:"name"`
	State               string            `json:"state"` // up | down | pending
	FailureReason       string            `json:"failure_reason,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Probes              uint64            `json:"probes"`
	Retries             uint64            `json:"retries"`
	Overruns            uint64            `json:"overruns"`
	Failures            map[string]uint64 `json:"failures"`
	UptimePct           float64           `json:"uptime_pct"`
	Measurements        int               `json:"measurements"`
	LatencyMs           float64           `json:"latency_ms"`
	CertDaysLeft        *float64          `json:"cert_days_left,omitempty"`
	LastProbe           string            `json:"last_probe,omitempty"`   // RFC3339
	LastSuccess         string            `json:"last_success,omitempty"` // RFC3339
	Diagnostics         []DiagnosticHint  `json:"diagnostics"`
}

// TargetsResponse is the payload for GET /api/v1/targets.
type TargetsResponse struct {
	Targets     []TargetResponse `json:"targets"`
	GeneratedAt string           `json:"generated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}
