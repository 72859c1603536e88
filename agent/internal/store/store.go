package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/panelwatch/panelwatch/agent/internal/prober"
)

// uptimeWindow is the number of recent probe outcomes tracked for UptimeRatio.
const uptimeWindow = 20

// ErrUnknownTarget is returned by Update for a name the Store was not built with.
var ErrUnknownTarget = errors.New("store: unknown target")

// Outcome is what the scheduler reports after finishing one tick.
type Outcome struct {
	// Result is the final result of the tick (after retries).
	Result prober.Result
	// Attempts is the number of probe calls made during the tick, at least 1.
	Attempts int
	// Overrun is set when the tick started later than its scheduled time
	// because the previous tick ran past the interval.
	Overrun bool
}

// Entry is the published state of one target. Entries are immutable: Update
// builds a new Entry and swaps it in, so callers may keep and read an Entry
// freely but must not modify its Failures map or result slices.
type Entry struct {
	Target string

	// Result is the latest probe result, nil until the first tick completes.
	Result *prober.Result

	// LastSuccess is the most recent successful result, nil if none yet.
	LastSuccess   *prober.Result
	LastSuccessAt time.Time

	// UpdatedAt is when Result was stored.
	UpdatedAt time.Time

	ConsecutiveFailures int

	Probes   uint64
	Retries  uint64
	Overruns uint64
	Failures map[prober.Kind]uint64

	// UptimeRatio is the share of successful ticks among the last 20,
	// in [0, 1]. It is 0 before the first tick.
	UptimeRatio float64

	history []bool
}

// Pending reports whether the target has not completed a probe yet.
func (e Entry) Pending() bool {
	return e.Result == nil
}

// Up reports whether the latest probe succeeded.
func (e Entry) Up() bool {
	return e.Result != nil && e.Result.Success()
}

// Snapshot is a point-in-time view of every entry, sorted by target name.
type Snapshot struct {
	TakenAt   time.Time
	StartedAt time.Time
	Entries   []Entry
}

type slot struct {
	mu  sync.Mutex // serialises writers; readers use cur only
	cur atomic.Pointer[Entry]
}

// Store is safe for concurrent use by one writer per target and any number
// of readers.
type Store struct {
	slots   map[string]*slot // never written after New
	names   []string         // sorted
	clock   clock.PassiveClock
	started time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp updates and snapshots.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a Store with one pending entry per name. Duplicate names are
// collapsed; the registry already guarantees uniqueness.
func New(names []string, opts ...Option) *Store {
	s := &Store{
		slots: make(map[string]*slot, len(names)),
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(s)
	}
	s.started = s.clock.Now()

	for _, name := range names {
		if _, ok := s.slots[name]; ok {
			continue
		}
		sl := &slot{}
		sl.cur.Store(&Entry{Target: name})
		s.slots[name] = sl
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s
}

// Update records the outcome of one tick for name. On success the failure
// streak resets and LastSuccess moves forward; on failure the streak and the
// per-kind counter grow while LastSuccess is kept.
func (s *Store) Update(name string, o Outcome) error {
	sl, ok := s.slots[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTarget, name)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	prev := sl.cur.Load()
	now := s.clock.Now()
	res := o.Result

	next := &Entry{
		Target:              name,
		Result:              &res,
		LastSuccess:         prev.LastSuccess,
		LastSuccessAt:       prev.LastSuccessAt,
		UpdatedAt:           now,
		ConsecutiveFailures: prev.ConsecutiveFailures,
		Probes:              prev.Probes + 1,
		Retries:             prev.Retries,
		Overruns:            prev.Overruns,
		Failures:            prev.Failures,
	}
	if o.Attempts > 1 {
		next.Retries += uint64(o.Attempts - 1)
	}
	if o.Overrun {
		next.Overruns++
	}

	if res.Success() {
		next.ConsecutiveFailures = 0
		next.LastSuccess = &res
		next.LastSuccessAt = now
	} else {
		next.ConsecutiveFailures++
		failures := make(map[prober.Kind]uint64, len(prev.Failures)+1)
		for k, v := range prev.Failures {
			failures[k] = v
		}
		failures[res.Kind]++
		next.Failures = failures
	}

	next.history = appendHistory(prev.history, res.Success())
	next.UptimeRatio = uptimeRatio(next.history)

	sl.cur.Store(next)
	return nil
}

// Get returns the current entry for name.
func (s *Store) Get(name string) (Entry, bool) {
	sl, ok := s.slots[name]
	if !ok {
		return Entry{}, false
	}
	return *sl.cur.Load(), true
}

// Snapshot returns every entry sorted by target name. Each entry is read
// atomically; entries of different targets may reflect different instants.
func (s *Store) Snapshot() Snapshot {
	out := Snapshot{
		TakenAt:   s.clock.Now(),
		StartedAt: s.started,
		Entries:   make([]Entry, 0, len(s.names)),
	}
	for _, name := range s.names {
		out.Entries = append(out.Entries, *s.slots[name].cur.Load())
	}
	return out
}

// Names returns the target names in sorted order.
func (s *Store) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of targets.
func (s *Store) Len() int {
	return len(s.names)
}

// StartedAt returns the time the Store was created.
func (s *Store) StartedAt() time.Time {
	return s.started
}

// appendHistory returns a new slice holding h plus ok, trimmed to the window.
// h itself is never modified because older entries still reference it.
func appendHistory(h []bool, ok bool) []bool {
	start := 0
	if len(h) >= uptimeWindow {
		start = len(h) - uptimeWindow + 1
	}
	out := make([]bool, 0, uptimeWindow)
	out = append(out, h[start:]...)
	return append(out, ok)
}

func uptimeRatio(h []bool) float64 {
	if len(h) == 0 {
		return 0
	}
	var ok int
	for _, s := range h {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(h))
}
