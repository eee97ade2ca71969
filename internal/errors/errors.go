// Package errors defines the error kinds produced by the acquisition pipeline and
// turns configured retry policies into backoff strategies.
//
// Every per-segment, per-instrument and per-format failure is a *PipelineError
// carrying a Kind. Callers test for kinds with errors.Is against the exported
// sentinels, e.g. errors.Is(err, ErrNoData). Only KindOutputDir is fatal to a batch.
package errors

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
)

// Kind classifies a pipeline failure
type Kind string

const (
	KindSegmentFetch    Kind = "segment_fetch"     // upstream call failed or returned a malformed shape
	KindNoData          Kind = "no_data"           // every segment of an instrument yielded nothing
	KindEmptyAfterClean Kind = "empty_after_clean" // data existed but none survived cleaning
	KindWrite           Kind = "write"             // one artifact format failed to persist
	KindArtifactMissing Kind = "artifact_missing"  // validator found no artifact
	KindArtifactCorrupt Kind = "artifact_corrupt"  // validator could not read the artifact or it was structurally unexpected
	KindOutputDir       Kind = "output_dir"        // the output root could not be created
	KindUnknown         Kind = "unknown"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrSegmentFetch    = &PipelineError{Kind: KindSegmentFetch}
	ErrNoData          = &PipelineError{Kind: KindNoData}
	ErrEmptyAfterClean = &PipelineError{Kind: KindEmptyAfterClean}
	ErrWrite           = &PipelineError{Kind: KindWrite}
	ErrArtifactMissing = &PipelineError{Kind: KindArtifactMissing}
	ErrArtifactCorrupt = &PipelineError{Kind: KindArtifactCorrupt}
	ErrOutputDir       = &PipelineError{Kind: KindOutputDir}
)

// PipelineError is a classified failure with the coordinates it occurred at
type PipelineError struct {
	Kind       Kind   `json:"kind"`
	Instrument string `json:"instrument,omitempty"`
	Segment    string `json:"segment,omitempty"`
	Format     string `json:"format,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Instrument != "" {
		msg += " " + e.Instrument
	}
	if e.Segment != "" {
		msg += " [" + e.Segment + "]"
	}
	if e.Format != "" {
		msg += " (" + e.Format + ")"
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any *PipelineError of the same kind
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	return ok && t.Kind == e.Kind
}

// New creates a PipelineError of the given kind.
func New(kind Kind, instrument string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Instrument: instrument, Err: err}
}

// NewSegmentFetchError creates an error for a segment whose retries were exhausted.
func NewSegmentFetchError(instrument, segment string, attempts int, err error) *PipelineError {
	return &PipelineError{Kind: KindSegmentFetch, Instrument: instrument, Segment: segment, Attempts: attempts, Err: err}
}

// NewWriteError creates an error for one failed artifact format.
func NewWriteError(instrument, format string, err error) *PipelineError {
	return &PipelineError{Kind: KindWrite, Instrument: instrument, Format: format, Err: err}
}

// KindOf extracts the kind of a pipeline error, or KindUnknown.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort a batch.
func IsFatal(err error) bool {
	return KindOf(err) == KindOutputDir
}

// NewBackOff builds the wait strategy between attempts for a retry policy.
// The returned strategy stops after MaxAttempts-1 retries, so at most
// MaxAttempts calls are made in total.
func NewBackOff(policy config.RetryPolicyConfig) backoff.BackOff {
	delay := policy.DelayDuration()
	maxDelay := policy.MaxDelayDuration()

	var strategy backoff.BackOff
	switch policy.BackoffStrategy {
	case "linear":
		strategy = &LinearBackoff{interval: delay, max: maxDelay}
	case "exponential":
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = delay
		exponential.MaxInterval = maxDelay
		exponential.RandomizationFactor = 0
		exponential.MaxElapsedTime = 0
		exponential.Reset()
		strategy = exponential
	default:
		strategy = backoff.NewConstantBackOff(delay)
	}

	if policy.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(strategy, uint64(attempts-1))
}

// LinearBackoff grows the delay by a fixed interval per attempt, up to max.
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.max > 0 && lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop || next == 0 {
		return next
	}
	jitter := float64(next) * 0.1
	offset := (2*rand.Float64() - 1) * jitter
	return next + time.Duration(offset)
}
