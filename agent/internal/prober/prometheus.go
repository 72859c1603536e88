package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

const defaultMetricsPath = "/metrics"

type promProber struct {
	target config.Target
	client *http.Client
}

func (p *promProber) endpoint() string {
	path := p.target.Path
	if path == "" {
		path = defaultMetricsPath
	}
	return p.target.URL() + path
}

// exchange fetches the target's text exposition and reports each configured
// family as one measurement holding the sum of its samples. Families absent
// from the scrape are skipped rather than reported as zero, so a renamed
// upstream metric shows up as a missing series instead of a false value.
func (p *promProber) exchange(ctx context.Context) ([]Measurement, error) {
	mfs, cs, err := fetchMetrics(ctx, p.client, p.endpoint())
	if err != nil {
		return nil, err
	}

	ms := make([]Measurement, 0, len(p.target.Metrics)+2)
	for _, name := range p.target.Metrics {
		mf, ok := mfs[name]
		if !ok {
			continue
		}
		ms = append(ms, Measurement{Name: name, Help: mf.GetHelp(), Value: sumFamily(mf)})
	}
	ms = append(ms, Measurement{
		Name:  config.MeasurementFamilies,
		Help:  "Number of metric families exposed by the target.",
		Value: float64(len(mfs)),
	})
	if m, ok := certMeasurement(cs, time.Now()); ok {
		ms = append(ms, m)
	}
	return ms, nil
}
