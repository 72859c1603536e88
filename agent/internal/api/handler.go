package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panelwatch/panelwatch/agent/internal/config"
	"github.com/panelwatch/panelwatch/agent/internal/exposition"
	"github.com/panelwatch/panelwatch/agent/internal/store"
)

const (
	agentMetricsPath = "/metrics/agent"
	healthzPath      = "/healthz"
	apiHealthPath    = "/api/v1/health"
	apiTargetsPath   = "/api/v1/targets"
)

// Snapshotter is the read side of the metrics store.
type Snapshotter interface {
	Snapshot() store.Snapshot
}

// Options configures a Handler.
type Options struct {
	// MetricsPath serves the target exposition. Defaults to "/metrics".
	MetricsPath string
	// Renderer renders scrapes. Required.
	Renderer *exposition.Renderer
	// Gatherer is served on /metrics/agent. Nil disables the route.
	Gatherer prometheus.Gatherer
	// Registerer receives the HTTP RED metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handler is the agent's HTTP handler. It only reads from the store.
type Handler struct {
	store       Snapshotter
	renderer    *exposition.Renderer
	metricsPath string
	logger      *slog.Logger
	metrics     *metrics
	mux         *http.ServeMux
	handler     http.Handler
}

// New creates a Handler over st and registers all routes.
func New(st Snapshotter, opts Options) *Handler {
	h := &Handler{
		store:       st,
		renderer:    opts.Renderer,
		metricsPath: opts.MetricsPath,
		logger:      opts.Logger,
		metrics:     newMetrics(opts.Registerer),
		mux:         http.NewServeMux(),
	}
	if h.metricsPath == "" {
		h.metricsPath = config.DefaultMetricsPath
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.mux.HandleFunc(h.metricsPath, h.scrape)
	if opts.Gatherer != nil {
		agent := promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
		h.mux.Handle(agentMetricsPath, readOnly(agent))
	}
	h.mux.HandleFunc(healthzPath, h.healthz)
	h.mux.HandleFunc(apiHealthPath, h.health)
	h.mux.HandleFunc(apiTargetsPath, h.listTargets)
	h.mux.HandleFunc(apiTargetsPath+"/", h.getTarget)

	h.handler = h.chain(h.mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// scrape renders a fresh snapshot on every request. Target health never
// affects the status code; a target that cannot be rendered is left out and
// counted in render_failures_total.
func (h *Handler) scrape(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mfs, omitted := h.renderer.Families(h.store.Snapshot())
	for _, err := range omitted {
		h.metrics.renderFailures.Inc()
		h.logger.Warn("api: target omitted from scrape", "err", err, "request_id", RequestID(r.Context()))
	}

	var buf bytes.Buffer
	if err := exposition.Write(&buf, mfs); err != nil {
		h.logger.Error("api: render scrape", "err", err, "request_id", RequestID(r.Context()))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", exposition.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(buf.Bytes()) //nolint:errcheck
}

// healthz reports agent liveness only.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte("ok\n")) //nolint:errcheck
	}
}

// health returns GET /api/v1/health: counts of up, down and pending targets.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.store.Snapshot()
	resp := HealthResponse{
		TargetCount: len(snap.Entries),
		GeneratedAt: snap.TakenAt.UTC().Format(time.RFC3339),
	}
	for _, e := range snap.Entries {
		switch {
		case e.Pending():
			resp.PendingCount++
		case e.Up():
			resp.UpCount++
		default:
			resp.DownCount++
		}
	}
	resp.State = overallState(resp)
	jsonResp(w, http.StatusOK, resp)
}

// listTargets returns GET /api/v1/targets: every target, sorted by name.
func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.store.Snapshot()
	out := make([]TargetResponse, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, toTargetResponse(e))
	}
	jsonResp(w, http.StatusOK, TargetsResponse{
		Targets:     out,
		GeneratedAt: snap.TakenAt.UTC().Format(time.RFC3339),
	})
}

// getTarget returns GET /api/v1/targets/{name}.
func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, apiTargetsPath+"/")
	if name == "" {
		h.listTargets(w, r)
		return
	}
	for _, e := range h.store.Snapshot().Entries {
		if e.Target == name {
			jsonResp(w, http.StatusOK, toTargetResponse(e))
			return
		}
	}
	jsonErr(w, http.StatusNotFound, "target not found")
}

// --- helpers ----------------------------------------------------------------

// allowRead reports whether r is a GET or HEAD request, setting the Allow
// header when it is not.
func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	return false
}

func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func overallState(h HealthResponse) string {
	switch {
	case h.TargetCount > 0 && h.PendingCount == h.TargetCount:
		return "pending"
	case h.DownCount == 0:
		return "ok"
	case h.UpCount == 0:
		return "down"
	default:
		return "degraded"
	}
}

// toTargetResponse maps a store.Entry to its JSON representation.
func toTargetResponse(e store.Entry) TargetResponse {
	out := TargetResponse{
		Name:                e.Target,
		ConsecutiveFailures: e.ConsecutiveFailures,
		Probes:              e.Probes,
		Retries:             e.Retries,
		Overruns:            e.Overruns,
		Failures:            make(map[string]uint64, len(e.Failures)),
		UptimePct:           e.UptimeRatio * 100,
		Diagnostics:         computeDiagnostics(e),
	}
	for k, v := range e.Failures {
		out.Failures[string(k)] = v
	}

	switch {
	case e.Pending():
		out.State = "pending"
	case e.Up():
		out.State = "up"
	default:
		out.State = "down"
		out.FailureReason = string(e.Result.Kind)
		out.ErrorMessage = e.Result.Message
	}
	if e.Result != nil {
		out.LastProbe = e.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if e.LastSuccess != nil {
		out.LastSuccess = e.LastSuccessAt.UTC().Format(time.RFC3339)
		out.Measurements = len(e.LastSuccess.Measurements)
		for _, m := range e.LastSuccess.Measurements {
			switch m.Name {
			case "latency_seconds":
				out.LatencyMs = m.Value * 1000
			case "tls_cert_expiry_days":
				days := m.Value
				out.CertDaysLeft = &days
			}
		}
	}
	return out
}
