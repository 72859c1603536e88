package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

type httpProber struct {
	target config.Target
	client *http.Client
}

func (p *httpProber) endpoint() string {
	path := p.target.Path
	if path == "" {
		path = "/"
	}
	return p.target.URL() + path
}

// exchange issues a GET against the health path. Any 2xx is a success;
// 401/403 are auth_rejected and every other status is malformed_response.
func (p *httpProber) exchange(ctx context.Context) ([]Measurement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	ms := []Measurement{{
		Name:  config.MeasurementHTTPStatus,
		Help:  "HTTP status code of the last successful health request.",
		Value: float64(resp.StatusCode),
	}}
	if m, ok := certMeasurement(resp.TLS, time.Now()); ok {
		ms = append(ms, m)
	}
	return ms, nil
}
