// Package models provides the data structures shared by the acquisition pipeline:
// daily bars, date ranges, per-segment and per-instrument outcomes, and the
// manifest and coverage records derived from persisted artifacts.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Field names the value columns every bar carries, in canonical order.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
	FieldAmount Field = "amount"
)

// BarFields is the fixed field set requested from the upstream source.
var BarFields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldAmount}

// ColumnNames returns the artifact column order: date followed by BarFields.
func ColumnNames() []string {
	cols := make([]string, 0, len(BarFields)+1)
	cols = append(cols, "date")
	for _, f := range BarFields {
		cols = append(cols, string(f))
	}
	return cols
}

// Bar is one daily OHLCV record with traded amount.
// A missing upstream value is represented as NaN.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
}

// ValidationError represents a bar validation error with specific field context.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Missing reports whether a value was absent upstream.
func Missing(v float64) bool {
	return math.IsNaN(v)
}

// Value returns the value of the named field.
func (b *Bar) Value(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldVolume:
		return b.Volume
	case FieldAmount:
		return b.Amount
	default:
		return math.NaN()
	}
}

// Set assigns the named field. Unknown fields are ignored.
func (b *Bar) Set(f Field, v float64) {
	switch f {
	case FieldOpen:
		b.Open = v
	case FieldHigh:
		b.High = v
	case FieldLow:
		b.Low = v
	case FieldClose:
		b.Close = v
	case FieldVolume:
		b.Volume = v
	case FieldAmount:
		b.Amount = v
	}
}

// IsComplete reports whether the date and every field in BarFields are present.
func (b *Bar) IsComplete() bool {
	if b.Date.IsZero() {
		return false
	}
	for _, f := range BarFields {
		if Missing(b.Value(f)) {
			return false
		}
	}
	return true
}

// Validate checks the invariants of a cleaned bar: all fields present,
// close > 0 and volume > 0, prices and amount non-negative.
func (b *Bar) Validate() error {
	if b.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be zero"}
	}
	for _, f := range BarFields {
		v := b.Value(f)
		if Missing(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: string(f), Message: "value is missing"}
		}
		if v < 0 {
			return &ValidationError{Field: string(f), Message: "value must be non-negative"}
		}
	}
	if b.Close <= 0 {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if b.Volume <= 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than 0"}
	}
	return nil
}

// CloseDecimal returns the close price as a decimal for cash arithmetic.
func (b *Bar) CloseDecimal() decimal.Decimal {
	return decimal.NewFromFloat(b.Close)
}

// NewEmptyBar returns a bar for date with every field missing.
func NewEmptyBar(date time.Time) Bar {
	nan := math.NaN()
	return Bar{Date: date, Open: nan, High: nan, Low: nan, Close: nan, Volume: nan, Amount: nan}
}
