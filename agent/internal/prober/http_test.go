package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

func httpTarget(url, path string) config.Target {
	return config.Target{
		Name:         "health",
		Type:         config.TypeHTTP,
		BaseURL:      url,
		Path:         path,
		PollInterval: 5 * time.Second,
		Timeout:      2 * time.Second,
	}
}

func TestHTTPProber_Status(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		path string
		want Kind
		code float64
	}{
		{"/ok", KindNone, 204},
		{"/down", KindMalformedResponse, 0},
		{"/private", KindAuthRejected, 0},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			res := newProber(t, httpTarget(srv.URL, tc.path)).Probe(context.Background())
			if res.Kind != tc.want {
				t.Fatalf("Kind = %q, want %q (%s)", res.Kind, tc.want, res.Message)
			}
			if tc.want != KindNone {
				return
			}
			if v, _ := find(res.Measurements, "http_status_code"); v != tc.code {
				t.Errorf("http_status_code = %v, want %v", v, tc.code)
			}
		})
	}
}

func TestHTTPProber_APIKeyHeader(t *testing.T) {
	t.Setenv("TEST_HEALTH_KEY", "k-123")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := httpTarget(srv.URL, "")
	tg.Auth = config.AuthConfig{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "TEST_HEALTH_KEY"}
	if res := newProber(t, tg).Probe(context.Background()); !res.Success() {
		t.Fatalf("Probe failed: %s: %s", res.Kind, res.Message)
	}
}

func TestHTTPProber_DurationRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	res := newProber(t, httpTarget(srv.URL, "")).Probe(context.Background())
	if !res.Success() {
		t.Fatalf("Probe failed: %s: %s", res.Kind, res.Message)
	}
	if res.Duration < 20*time.Millisecond {
		t.Errorf("Duration = %v, want >= 20ms", res.Duration)
	}
	if res.Time.IsZero() {
		t.Error("Time not set")
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	if _, err := New(config.Target{Name: "x", Type: "gopher"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	tg := httpTarget("https://example.com", "")
	tg.Auth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := New(tg); err == nil {
		t.Fatal("expected error for missing client certificate")
	}
}
