package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/panelwatch/panelwatch/agent/internal/config"
	"github.com/panelwatch/panelwatch/agent/internal/security"
)

const (
	userAgent = "panelwatch-agent"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 32 << 20
)

// Prober performs a single synchronous check against one target.
// Implementations never retry and must return soon after ctx is done; the
// scheduler stops waiting for a Probe call once its timeout expires.
type Prober interface {
	Probe(ctx context.Context) Result
}

// Func adapts a plain function to the Prober interface.
type Func func(ctx context.Context) Result

// Probe calls f(ctx).
func (f Func) Probe(ctx context.Context) Result {
	return f(ctx)
}

// exchanger performs the protocol-specific request/response exchange and
// returns the measurements it extracted.
type exchanger interface {
	exchange(ctx context.Context) ([]Measurement, error)
}

// New returns the appropriate Prober for the given target.
// It builds the HTTP client once and reuses it across probe calls.
func New(t config.Target) (Prober, error) {
	client, err := buildHTTPClient(t)
	if err != nil {
		return nil, fmt.Errorf("prober %q: build http client: %w", t.Name, err)
	}

	var ex exchanger
	switch t.Type {
	case config.TypeXUI:
		ex = &xuiProber{target: t, client: client}
	case config.TypePrometheus:
		ex = &promProber{target: t, client: client}
	case config.TypeHTTP:
		ex = &httpProber{target: t, client: client}
	default:
		return nil, fmt.Errorf("prober: unsupported type %q", t.Type)
	}
	return &timedProber{target: t.Name, ex: ex, now: time.Now}, nil
}

// timedProber wraps an exchanger with timing and failure classification.
type timedProber struct {
	target string
	ex     exchanger
	now    func() time.Time
}

func (p *timedProber) Probe(ctx context.Context) Result {
	start := p.now()
	ms, err := p.ex.exchange(ctx)
	elapsed := p.now().Sub(start)

	var res Result
	if err != nil {
		res = Failed(p.target, start, Classify(err), err.Error())
	} else {
		ms = append(ms, Measurement{
			Name:  config.MeasurementLatency,
			Help:  "Wall time of the last successful probe exchange.",
			Value: elapsed.Seconds(),
		})
		res = Succeeded(p.target, start, ms)
	}
	res.Duration = elapsed
	return res
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	switch t.auth.Mode {
	case "apikey":
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req.SetBasicAuth(t.auth.Username, t.auth.Secret())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the target's auth and TLS settings.
func buildHTTPClient(t config.Target) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: t.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if t.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(t.Auth.CertFile, t.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if t.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(t.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", t.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg

	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: t.Auth},
		Timeout:   t.Timeout,
	}, nil
}

// checkStatus maps a non-2xx response to a classified error.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return rejected("unexpected status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return malformed("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// decodeJSON decodes a bounded response body into out.
func decodeJSON(resp *http.Response, out any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return malformed("decode JSON: %w", err)
	}
	return nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, *tls.ConnectionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, nil, err
	}
	mfs, err := parseMetrics(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, err
	}
	return mfs, resp.TLS, nil
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, malformed("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// certMeasurement reports the days left on the peer's leaf certificate.
// ok is false for plain-HTTP exchanges.
func certMeasurement(cs *tls.ConnectionState, now time.Time) (Measurement, bool) {
	status := security.Inspect(cs, now)
	if status == nil {
		return Measurement{}, false
	}
	return Measurement{
		Name:  config.MeasurementCertExpiry,
		Help:  "Days until the target's TLS leaf certificate expires.",
		Value: status.DaysLeft,
	}, true
}
