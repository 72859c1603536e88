package prober

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

// panelResponse is the envelope every 3x-ui API call answers with.
type panelResponse[T any] struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Obj     T      `json:"obj"`
}

// panelInbound is the subset of an inbound returned by /panel/api/inbounds/list.
type panelInbound struct {
	ID          int           `json:"id"`
	Up          float64       `json:"up"`
	Down        float64       `json:"down"`
	Protocol    string        `json:"protocol"`
	Enable      bool          `json:"enable"`
	ClientStats []panelClient `json:"clientStats"`
}

type panelClient struct {
	Email  string  `json:"email"`
	Up     float64 `json:"up"`
	Down   float64 `json:"down"`
	Total  float64 `json:"total"`
	Enable bool    `json:"enable"`
}

type xuiProber struct {
	target config.Target
	client *http.Client
}

// exchange logs in to a 3x-ui panel and reads per-inbound and per-client
// traffic counters.
//
// Each probe uses a fresh cookie jar, so no session survives between ticks
// and an expired or revoked login surfaces as auth_rejected on the next tick.
//
// Measurements:
//
//	inbounds, clients
//	inbound_upload_bytes, inbound_download_bytes   {inbound_id, protocol}
//	user_upload_bytes, user_download_bytes,
//	user_total_bytes, user_enabled                 {email, inbound_id}
//	tls_cert_expiry_days                           (https panels only)
func (p *xuiProber) exchange(ctx context.Context) ([]Measurement, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client := *p.client
	client.Jar = jar

	base := p.target.URL()
	loginResp, err := p.login(ctx, &client, base)
	if err != nil {
		return nil, err
	}

	inbounds, err := p.listInbounds(ctx, &client, base)
	if err != nil {
		return nil, err
	}

	ms := inboundMeasurements(inbounds)
	if m, ok := certMeasurement(loginResp.TLS, time.Now()); ok {
		ms = append(ms, m)
	}
	return ms, nil
}

func (p *xuiProber) login(ctx context.Context, client *http.Client, base string) (*http.Response, error) {
	form := url.Values{
		"username": {p.target.Auth.Username},
		"password": {p.target.Auth.Secret()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	var body panelResponse[any]
	if err := decodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !body.Success {
		return nil, rejected("login refused: %s", body.Msg)
	}
	return resp, nil
}

func (p *xuiProber) listInbounds(ctx context.Context, client *http.Client, base string) ([]panelInbound, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, fmt.Errorf("build inbounds request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list inbounds: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("list inbounds: %w", err)
	}
	var body panelResponse[[]panelInbound]
	if err := decodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("list inbounds: %w", err)
	}
	if !body.Success {
		return nil, malformed("list inbounds: panel reported failure: %s", body.Msg)
	}
	return body.Obj, nil
}

func inboundMeasurements(inbounds []panelInbound) []Measurement {
	var clients int
	ms := make([]Measurement, 0, 2+len(inbounds)*2)

	for _, in := range inbounds {
		id := strconv.Itoa(in.ID)
		inLabels := []Label{{Name: "inbound_id", Value: id}, {Name: "protocol", Value: in.Protocol}}
		ms = append(ms,
			Measurement{Name: "inbound_upload_bytes", Help: "Bytes uploaded through an inbound.", Labels: inLabels, Value: in.Up},
			Measurement{Name: "inbound_download_bytes", Help: "Bytes downloaded through an inbound.", Labels: inLabels, Value: in.Down},
		)

		for _, c := range in.ClientStats {
			clients++
			labels := []Label{{Name: "email", Value: c.Email}, {Name: "inbound_id", Value: id}}
			ms = append(ms,
				Measurement{Name: "user_upload_bytes", Help: "Bytes uploaded by a user.", Labels: labels, Value: c.Up},
				Measurement{Name: "user_download_bytes", Help: "Bytes downloaded by a user.", Labels: labels, Value: c.Down},
				Measurement{Name: "user_total_bytes", Help: "Total bytes value the panel reports for a user.", Labels: labels, Value: c.Total},
				Measurement{Name: "user_enabled", Help: "Whether the user is enabled on the panel.", Labels: labels, Value: boolValue(c.Enable)},
			)
		}
	}

	ms = append(ms,
		Measurement{Name: "inbounds", Help: "Number of inbounds configured on the panel.", Value: float64(len(inbounds))},
		Measurement{Name: "clients", Help: "Number of clients across all inbounds.", Value: float64(clients)},
	)
	return ms
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
