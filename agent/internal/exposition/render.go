package exposition

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"google.golang.org/protobuf/proto"

	"github.com/panelwatch/panelwatch/agent/internal/config"
	"github.com/panelwatch/panelwatch/agent/internal/prober"
	"github.com/panelwatch/panelwatch/agent/internal/store"
)

// ContentType is the Content-Type of the rendered text.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

const targetLabel = "target"

// Status family suffixes, appended to "<namespace>_".
const (
	famUp                  = config.FamilyUp
	famConsecutiveFailures = config.FamilyConsecutiveFailures
	famSinceLastSuccess    = config.FamilySinceLastSuccess
	famLastSuccessTime     = config.FamilyLastSuccessTime
	famProbeDuration       = config.FamilyProbeDuration
	famProbes              = config.FamilyProbes
	famRetries             = config.FamilyRetries
	famOverruns            = config.FamilyOverruns
	famFailures            = config.FamilyFailures
	famFailureReason       = config.FamilyFailureReason
	famUptimeRatio         = config.FamilyUptimeRatio
)

var statusHelp = map[string]string{
	famUp:                  "1 if the latest probe of the target succeeded, 0 otherwise.",
	famConsecutiveFailures: "Number of failed probes since the last success.",
	famSinceLastSuccess:    "Seconds since the last successful probe, or since agent start if none.",
	famLastSuccessTime:     "Unix time of the last successful probe, 0 if none.",
	famProbeDuration:       "Duration of the latest probe attempt in seconds.",
	famProbes:              "Completed probe ticks.",
	famRetries:             "Probe attempts beyond the first within a tick.",
	famOverruns:            "Ticks that started late because the previous tick overran the poll interval.",
	famFailures:            "Failed probe ticks by failure reason.",
	famFailureReason:       "1 for the reason of the current failure; absent while the target is up.",
	famUptimeRatio:         "Share of successful probes among the last 20 ticks.",
}

var counterFamilies = map[string]bool{
	famProbes:   true,
	famRetries:  true,
	famOverruns: true,
	famFailures: true,
}

// RenderError reports a target whose series were left out of the output.
type RenderError struct {
	Target string
	Metric string
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render target %q: metric %q: %s", e.Target, e.Metric, e.Reason)
}

// Options controls naming and stale-measurement handling.
type Options struct {
	// Namespace prefixes every family name.
	Namespace string
	// Stale is config.StaleDrop or config.StaleHold. Empty means drop.
	Stale string
}

// Renderer turns snapshots into exposition text. It holds no state between
// calls and is safe for concurrent use.
type Renderer struct {
	opts     Options
	builtins map[string]bool
	logger   *slog.Logger
}

// New returns a Renderer. A nil logger means slog.Default().
func New(opts Options, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{opts: opts, builtins: make(map[string]bool, len(statusHelp)), logger: logger}
	for suffix := range statusHelp {
		r.builtins[r.name(suffix)] = true
	}
	return r
}

// Render writes the exposition of snap to w. Targets that fail to render are
// logged and skipped; only a write error is returned.
func (r *Renderer) Render(w io.Writer, snap store.Snapshot) error {
	mfs, errs := r.Families(snap)
	for _, err := range errs {
		r.logger.Warn("exposition: target omitted from scrape", "err", err)
	}
	return Write(w, mfs)
}

// Write encodes mfs to w in the text format, in the given order.
func Write(w io.Writer, mfs []*dto.MetricFamily) error {
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("exposition: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Families builds the sorted metric families for snap along with one
// *RenderError per omitted target.
func (r *Renderer) Families(snap store.Snapshot) ([]*dto.MetricFamily, []error) {
	b := newBuilder()
	var errs []error
	for _, e := range snap.Entries {
		ss, err := r.targetSeries(e, snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, s := range ss {
			b.add(s)
		}
	}
	return b.families(), errs
}

type series struct {
	family string
	help   string
	typ    dto.MetricType
	labels []*dto.LabelPair
	value  float64
}

func (r *Renderer) name(suffix string) string {
	if r.opts.Namespace == "" {
		return suffix
	}
	return r.opts.Namespace + "_" + suffix
}

func (r *Renderer) status(suffix, target string, v float64, extra ...string) series {
	typ := dto.MetricType_GAUGE
	if counterFamilies[suffix] {
		typ = dto.MetricType_COUNTER
	}
	labels := []*dto.LabelPair{labelPair(targetLabel, target)}
	for i := 0; i+1 < len(extra); i += 2 {
		labels = append(labels, labelPair(extra[i], extra[i+1]))
	}
	return series{family: r.name(suffix), help: statusHelp[suffix], typ: typ, labels: labels, value: v}
}

// targetSeries returns every series of one entry, or an error if any of its
// measurements cannot be rendered.
func (r *Renderer) targetSeries(e store.Entry, snap store.Snapshot) ([]series, error) {
	t := e.Target
	if !utf8.ValidString(t) {
		return nil, &RenderError{Target: t, Metric: targetLabel, Reason: "target name is not valid UTF-8"}
	}

	since := snap.TakenAt.Sub(snap.StartedAt)
	lastSuccess := 0.0
	if !e.LastSuccessAt.IsZero() {
		since = snap.TakenAt.Sub(e.LastSuccessAt)
		lastSuccess = float64(e.LastSuccessAt.UnixNano()) / 1e9
	}
	if since < 0 {
		since = 0
	}

	out := []series{
		r.status(famUp, t, boolValue(e.Up())),
		r.status(famConsecutiveFailures, t, float64(e.ConsecutiveFailures)),
		r.status(famSinceLastSuccess, t, since.Seconds()),
		r.status(famLastSuccessTime, t, lastSuccess),
		r.status(famProbes, t, float64(e.Probes)),
		r.status(famRetries, t, float64(e.Retries)),
		r.status(famOverruns, t, float64(e.Overruns)),
		r.status(famUptimeRatio, t, e.UptimeRatio),
	}
	for _, k := range prober.Kinds {
		out = append(out, r.status(famFailures, t, float64(e.Failures[k]), "reason", string(k)))
	}
	if e.Result != nil {
		out = append(out, r.status(famProbeDuration, t, e.Result.Duration.Seconds()))
		if !e.Result.Success() {
			out = append(out, r.status(famFailureReason, t, 1, "reason", string(e.Result.Kind)))
		}
	}

	for _, m := range r.measurements(e) {
		s, err := r.measurementSeries(t, m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// measurements picks the raw measurements to expose for e according to the
// stale policy.
func (r *Renderer) measurements(e store.Entry) []prober.Measurement {
	switch {
	case e.Up():
		return e.Result.Measurements
	case r.opts.Stale == config.StaleHold && e.LastSuccess != nil:
		return e.LastSuccess.Measurements
	default:
		return nil
	}
}

func (r *Renderer) measurementSeries(target string, m prober.Measurement) (series, error) {
	fail := func(reason string) (series, error) {
		return series{}, &RenderError{Target: target, Metric: m.Name, Reason: reason}
	}

	family := r.name(m.Name)
	if !model.MetricNameRE.MatchString(family) {
		return fail("invalid metric name")
	}
	if r.builtins[family] {
		return fail("collides with a built-in status metric")
	}

	labels := make([]*dto.LabelPair, 0, len(m.Labels)+1)
	labels = append(labels, labelPair(targetLabel, target))
	seen := map[string]bool{targetLabel: true}
	for _, l := range m.Labels {
		switch {
		case !model.LabelNameRE.MatchString(l.Name) || strings.HasPrefix(l.Name, model.ReservedLabelPrefix):
			return fail(fmt.Sprintf("invalid label name %q", l.Name))
		case seen[l.Name]:
			return fail(fmt.Sprintf("duplicate or reserved label %q", l.Name))
		case !utf8.ValidString(l.Value):
			return fail(fmt.Sprintf("label %q value is not valid UTF-8", l.Name))
		}
		seen[l.Name] = true
		labels = append(labels, labelPair(l.Name, l.Value))
	}

	help := m.Help
	if help == "" {
		help = "Measurement " + m.Name + " reported by the target probe."
	}
	return series{family: family, help: help, typ: dto.MetricType_GAUGE, labels: labels, value: m.Value}, nil
}

// builder groups series into families, dropping repeated label sets.
type builder struct {
	byName map[string]*dto.MetricFamily
	keys   map[string]map[string]bool
}

func newBuilder() *builder {
	return &builder{byName: map[string]*dto.MetricFamily{}, keys: map[string]map[string]bool{}}
}

func (b *builder) add(s series) {
	sort.Slice(s.labels, func(i, j int) bool { return s.labels[i].GetName() < s.labels[j].GetName() })

	mf, ok := b.byName[s.family]
	if !ok {
		mf = &dto.MetricFamily{
			Name: proto.String(s.family),
			Help: proto.String(s.help),
			Type: s.typ.Enum(),
		}
		b.byName[s.family] = mf
		b.keys[s.family] = map[string]bool{}
	}

	key := labelKey(s.labels)
	if b.keys[s.family][key] {
		return
	}
	b.keys[s.family][key] = true

	m := &dto.Metric{Label: s.labels}
	if mf.GetType() == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(s.value)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(s.value)}
	}
	mf.Metric = append(mf.Metric, m)
}

func (b *builder) families() []*dto.MetricFamily {
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		mf := b.byName[name]
		sort.SliceStable(mf.Metric, func(i, j int) bool {
			return lessLabels(mf.Metric[i].GetLabel(), mf.Metric[j].GetLabel())
		})
		out = append(out, mf)
	}
	return out
}

func labelPair(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func labelKey(labels []*dto.LabelPair) string {
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteString(l.GetName())
		sb.WriteByte(0)
		sb.WriteString(l.GetValue())
		sb.WriteByte(0)
	}
	return sb.String()
}

func lessLabels(a, b []*dto.LabelPair) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].GetName() != b[i].GetName() {
			return a[i].GetName() < b[i].GetName()
		}
		if a[i].GetValue() != b[i].GetValue() {
			return a[i].GetValue() < b[i].GetValue()
		}
	}
	return len(a) < len(b)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
