package models

import "time"

// FetchStatus classifies the result of fetching one segment.
type FetchStatus string

const (
	FetchRows  FetchStatus = "rows"  // FetchRows indicates a non-empty bar sequence
	FetchEmpty FetchStatus = "empty" // FetchEmpty indicates the range was queried and held nothing
	FetchError FetchStatus = "error" // FetchError indicates retries were exhausted
)

// SegmentResult is the terminal outcome of fetching one segment.
type SegmentResult struct {
	Segment  DateRange   `json:"segment"`
	Status   FetchStatus `json:"status"`
	Bars     []Bar       `json:"-"`
	Attempts int         `json:"attempts"`
	Err      error       `json:"-"`
}

// OutcomeStatus is the per-instrument result of a batch.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// FormatResult records how one artifact format fared for an instrument.
type FormatResult struct {
	Format string `json:"format"`
	Key    string `json:"key"`
	Size   int64  `json:"size,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the artifact was written.
func (f FormatResult) OK() bool {
	return f.Error == ""
}

// Outcome is the result of running one instrument through the pipeline.
type Outcome struct {
	Instrument      string         `json:"instrument"`
	Status          OutcomeStatus  `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	Rows            int            `json:"rows"`
	RawRows         int            `json:"raw_rows"`
	Coverage        *DateRange     `json:"coverage,omitempty"`
	Partial         bool           `json:"partial"`
	MissingSegments []DateRange    `json:"missing_segments,omitempty"`
	Formats         []FormatResult `json:"formats,omitempty"`
	Duration        time.Duration  `json:"duration"`
	Err             error          `json:"-"`
}

// Succeeded reports whether the instrument produced at least one artifact.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}
