package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies why a probe failed. The zero value means success.
type Kind string

const (
	KindNone              Kind = ""
	KindUnreachable       Kind = "unreachable"
	KindTimeout           Kind = "timeout"
	KindMalformedResponse Kind = "malformed_response"
	KindAuthRejected      Kind = "auth_rejected"

	// KindInternal marks a probe that panicked. The scheduler recovers the
	// panic and records it like any other failure.
	KindInternal Kind = "internal"
)

// Kinds lists every failure kind in a fixed order.
var Kinds = []Kind{KindAuthRejected, KindInternal, KindMalformedResponse, KindTimeout, KindUnreachable}

// Label is one name/value pair attached to a Measurement.
type Label struct {
	Name  string
	Value string
}

// Measurement is one named numeric value reported by a probe.
// Labels distinguish series within the same name (e.g. per client).
type Measurement struct {
	Name   string
	Help   string
	Labels []Label
	Value  float64
}

// Result is the outcome of a single probe. It is either a success carrying
// Measurements, or a failure carrying a Kind and a diagnostic Message.
// Results are treated as immutable once returned.
type Result struct {
	Target       string
	Time         time.Time
	Duration     time.Duration
	Measurements []Measurement
	Kind         Kind
	Message      string
}

// Success reports whether the probe succeeded.
func (r Result) Success() bool {
	return r.Kind == KindNone
}

// Succeeded builds a success Result.
func Succeeded(target string, at time.Time, ms []Measurement) Result {
	return Result{Target: target, Time: at, Measurements: ms}
}

// Failed builds a failure Result. An empty kind is coerced to KindInternal so
// a failure can never masquerade as a success.
func Failed(target string, at time.Time, kind Kind, msg string) Result {
	if kind == KindNone {
		kind = KindInternal
	}
	return Result{Target: target, Time: at, Kind: kind, Message: msg}
}

// Error is a probe error with an explicit classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformedResponse, Err: fmt.Errorf(format, args...)}
}

func rejected(format string, args ...any) error {
	return &Error{Kind: KindAuthRejected, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error returned by a probe exchange to a failure Kind.
// Explicitly classified errors keep their kind; deadline and timeout errors
// become KindTimeout; every other transport error (refused, DNS, reset,
// TLS handshake) becomes KindUnreachable.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
