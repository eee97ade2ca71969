// Package source defines the contract the pipeline depends on for upstream market data.
//
// An upstream source exposes two calls. PrimeCache asks the source to materialize a
// date range locally; it is idempotent and its failure is never fatal to a fetch.
// FetchFields returns one block per requested field (field-major); Reshape turns that
// into row-oriented bars keyed by date.
//
// Implementations are expected to be called sequentially. The upstream terminal is a
// stateful local cache that does not tolerate overlapping requests.
package source

import (
	"context"
	"time"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// Adjustment policies for reconciling prices across corporate actions.
const (
	AdjustNone       = "none"
	AdjustFront      = "front"
	AdjustBack       = "back"
	AdjustFrontRatio = "front_ratio"
	AdjustBackRatio  = "back_ratio"
)

// Request identifies one field-wise fetch.
type Request struct {
	Instrument string
	Period     string
	Range      models.DateRange
	Adjustment string
	// FillData asks the upstream to forward-fill suspended days. The pipeline always
	// sends false so halted days arrive with zero volume and are dropped by the cleaner.
	FillData bool
}

// FieldBlock is the upstream series for a single field. Dates and Values are parallel;
// a missing value is NaN.
type FieldBlock struct {
	Dates  []time.Time
	Values []float64
}

// FieldData maps each returned field to its block.
type FieldData map[models.Field]FieldBlock

// Empty reports whether no field carries any date.
func (d FieldData) Empty() bool {
	for _, b := range d {
		if len(b.Dates) > 0 || len(b.Values) > 0 {
			return false
		}
	}
	return true
}

// CachePrimer warms the upstream local cache for a range.
type CachePrimer interface {
	// PrimeCache instructs the source to materialize the range locally.
	// Callers treat a returned error as informational only.
	PrimeCache(ctx context.Context, instrument, period string, r models.DateRange) error
}

// FieldFetcher retrieves field-major data for one instrument and range.
type FieldFetcher interface {
	// FetchFields returns one block per requested field. An empty FieldData with a nil
	// error means the range was queried successfully and holds no data.
	FetchFields(ctx context.Context, fields []models.Field, req Request) (FieldData, error)
}

// Source is the full upstream contract.
type Source interface {
	CachePrimer
	FieldFetcher
}
