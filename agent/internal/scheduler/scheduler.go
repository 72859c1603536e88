package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/panelwatch/panelwatch/agent/internal/config"
	"github.com/panelwatch/panelwatch/agent/internal/prober"
	"github.com/panelwatch/panelwatch/agent/internal/store"
)

// Factory builds the prober for one target. prober.New is the production
// factory.
type Factory func(config.Target) (prober.Prober, error)

// Recorder receives the outcome of every completed tick.
// *store.Store satisfies it.
type Recorder interface {
	Update(name string, o store.Outcome) error
}

// Scheduler runs one poll loop per target.
type Scheduler struct {
	targets []config.Target
	probers map[string]prober.Prober
	rec     Recorder

	clock   clock.WithTicker
	jitter  time.Duration
	randDur func(time.Duration) time.Duration
	logger  *slog.Logger
	metrics *metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock. Tests pass a fake clock to control ticks.
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithStartJitter delays each loop's first tick by a random duration in
// [0, d) so targets sharing an interval do not all fire at once.
func WithStartJitter(d time.Duration) Option {
	return func(s *Scheduler) { s.jitter = d }
}

// WithRegisterer registers the scheduler's self-metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.metrics = newMetrics(reg) }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New builds a prober for every target in reg. A target whose prober cannot
// be built (for example an unreadable client certificate) fails New, so
// misconfiguration surfaces at startup.
func New(reg *config.Registry, rec Recorder, factory Factory, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		targets: reg.Targets(),
		probers: make(map[string]prober.Prober, reg.Len()),
		rec:     rec,
		clock:   clock.RealClock{},
		randDur: func(d time.Duration) time.Duration { return rand.N(d) },
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}

	for _, t := range s.targets {
		p, err := factory(t)
		if err != nil {
			return nil, fmt.Errorf("scheduler: target %q: %w", t.Name, err)
		}
		s.probers[t.Name] = p
	}
	return s, nil
}

// Run starts every loop and blocks until ctx is cancelled and all loops have
// returned. A probe in flight at cancellation is cut off through its context
// and its result is discarded.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.targets {
		p := s.probers[t.Name]
		g.Go(func() error {
			s.metrics.loopsRunning.Inc()
			defer s.metrics.loopsRunning.Dec()
			s.loop(gctx, t, p)
			return nil
		})
	}
	s.logger.Info("scheduler: started", "targets", len(s.targets))
	err := g.Wait()
	s.logger.Info("scheduler: stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t config.Target, p prober.Prober) {
	log := s.logger.With("target", t.Name)

	if s.jitter > 0 {
		if !s.sleep(ctx, s.randDur(s.jitter)) {
			return
		}
	}

	due := s.clock.Now()
	overrun := false
	for {
		res, attempts := s.tick(ctx, t, p)
		if ctx.Err() != nil {
			return
		}
		s.record(log, t.Name, store.Outcome{Result: res, Attempts: attempts, Overrun: overrun})

		now := s.clock.Now()
		due = due.Add(t.PollInterval)
		overrun = !due.After(now)
		if overrun {
			log.Warn("scheduler: tick overran poll interval, firing next immediately",
				"interval", t.PollInterval, "late_by", now.Sub(due))
			due = now
			continue
		}
		if !s.sleep(ctx, due.Sub(now)) {
			return
		}
	}
}

// tick probes once and then retries immediately while the result is a
// failure and retries remain.
func (s *Scheduler) tick(ctx context.Context, t config.Target, p prober.Prober) (prober.Result, int) {
	maxAttempts := t.MaxRetries() + 1
	var res prober.Result
	for attempt := 1; ; attempt++ {
		res = s.attempt(ctx, t, p)
		if res.Success() || attempt >= maxAttempts || ctx.Err() != nil {
			return res, attempt
		}
		s.logger.Debug("scheduler: retrying failed probe",
			"target", t.Name, "attempt", attempt, "kind", res.Kind, "err", res.Message)
	}
}

// attempt runs a single probe bounded by the target timeout. The probe runs
// on its own goroutine so a prober that ignores ctx cannot hold the loop past
// the timeout; its late result is thrown away. A panicking prober is recorded
// as an internal failure instead of killing the loop.
func (s *Scheduler) attempt(ctx context.Context, t config.Target, p prober.Prober) prober.Result {
	actx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	start := s.clock.Now()
	done := make(chan prober.Result, 1)
	go func() {
		done <- s.safeProbe(actx, t.Name, start, p)
	}()

	var res prober.Result
	select {
	case res = <-done:
	case <-actx.Done():
		select {
		case res = <-done:
		default:
			s.logger.Warn("scheduler: probe ignored its deadline, abandoning it", "target", t.Name)
			res = prober.Failed(t.Name, start, prober.Classify(actx.Err()),
				fmt.Sprintf("probe did not return within %s", t.Timeout))
			res.Duration = s.clock.Since(start)
		}
	}

	elapsed := s.clock.Since(start)
	s.metrics.probeDuration.WithLabelValues(t.Name, outcome(res)).Observe(elapsed.Seconds())
	s.metrics.probeAttempts.WithLabelValues(t.Name, outcome(res)).Inc()
	return res
}

func (s *Scheduler) safeProbe(ctx context.Context, name string, start time.Time, p prober.Prober) (res prober.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: probe panicked", "target", name, "panic", r)
			res = prober.Failed(name, start, prober.KindInternal, fmt.Sprintf("probe panicked: %v", r))
		}
	}()

	res = p.Probe(ctx)
	res.Target = name
	if res.Time.IsZero() {
		res.Time = start
	}
	return res
}

func (s *Scheduler) record(log *slog.Logger, name string, o store.Outcome) {
	if o.Result.Success() {
		log.Debug("scheduler: probe succeeded",
			"measurements", len(o.Result.Measurements), "duration", o.Result.Duration, "attempts", o.Attempts)
	} else {
		log.Warn("scheduler: probe failed",
			"kind", o.Result.Kind, "err", o.Result.Message, "attempts", o.Attempts)
	}
	if err := s.rec.Update(name, o); err != nil {
		s.metrics.recordErrors.Inc()
		log.Error("scheduler: record outcome", "err", err)
	}
}

// sleep waits for d on the scheduler clock. It returns false if ctx was
// cancelled first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}
