package config

// Per-target status families, exported as "<namespace>_<family>".
const (
	FamilyUp                  = "target_up"
	FamilyConsecutiveFailures = "target_consecutive_failures"
	FamilySinceLastSuccess    = "target_seconds_since_last_success"
	FamilyLastSuccessTime     = "target_last_success_timestamp_seconds"
	FamilyProbeDuration       = "target_probe_duration_seconds"
	FamilyProbes              = "target_probes_total"
	FamilyRetries             = "target_probe_retries_total"
	FamilyOverruns            = "target_probe_overruns_total"
	FamilyFailures            = "target_probe_failures_total"
	FamilyFailureReason       = "target_failure_reason"
	FamilyUptimeRatio         = "target_uptime_ratio"
)

// Measurement names the probers report on their own.
const (
	MeasurementLatency    = "latency_seconds"
	MeasurementFamilies   = "families"
	MeasurementCertExpiry = "tls_cert_expiry_days"
	MeasurementHTTPStatus = "http_status_code"
)

var reservedMeasurements = map[string]bool{
	FamilyUp:                  true,
	FamilyConsecutiveFailures: true,
	FamilySinceLastSuccess:    true,
	FamilyLastSuccessTime:     true,
	FamilyProbeDuration:       true,
	FamilyProbes:              true,
	FamilyRetries:             true,
	FamilyOverruns:            true,
	FamilyFailures:            true,
	FamilyFailureReason:       true,
	FamilyUptimeRatio:         true,
	MeasurementLatency:        true,
	MeasurementFamilies:       true,
	MeasurementCertExpiry:     true,
}

// ReservedMeasurement reports whether name is taken by a status family or by
// a measurement the prober adds on its own, and so cannot be selected as a
// metric family of a prometheus target.
func ReservedMeasurement(name string) bool {
	return reservedMeasurements[name]
}
