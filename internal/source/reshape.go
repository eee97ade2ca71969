package source

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// ErrMalformed marks a field block whose shape cannot be reshaped.
var ErrMalformed = errors.New("malformed field data")

// Reshape merge-joins field-major blocks into bars ordered by date.
//
// The date axis is the union of every requested field's dates. A field with no value
// on a date leaves that bar field missing (NaN), so ragged axes survive the join and
// are resolved downstream by the cleaner. Within one block a repeated date keeps the
// later value. Fields not in fields are ignored.
func Reshape(data FieldData, fields []models.Field) ([]models.Bar, error) {
	if data.Empty() {
		return nil, nil
	}

	rows := make(map[time.Time]*models.Bar)
	for _, f := range fields {
		block, ok := data[f]
		if !ok {
			continue
		}
		if len(block.Dates) != len(block.Values) {
			return nil, fmt.Errorf("%w: field %s has %d dates and %d values",
				ErrMalformed, f, len(block.Dates), len(block.Values))
		}
		for i, d := range block.Dates {
			if d.IsZero() {
				return nil, fmt.Errorf("%w: field %s has a zero date at index %d", ErrMalformed, f, i)
			}
			day := models.Day(d)
			bar, ok := rows[day]
			if !ok {
				b := models.NewEmptyBar(day)
				bar = &b
				rows[day] = bar
			}
			bar.Set(f, block.Values[i])
		}
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, b := range rows {
		bars = append(bars, *b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
