// Package validator turns an assembled bar sequence into a cleaned series.
//
// A cleaned series has strictly ascending unique dates, every field present,
// close > 0 and volume > 0. Zero-volume rows are treated as halted days.
package validator

import (
	"fmt"
	"math"
	"sort"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// CleanStats counts what Clean removed.
type CleanStats struct {
	Input      int
	Incomplete int
	Negative   int
	ZeroVolume int
	BadClose   int
	Duplicates int
	Output     int
}

// Dropped returns the total number of removed rows.
func (s CleanStats) Dropped() int {
	return s.Input - s.Output
}

// Clean filters, sorts and deduplicates bars. It never modifies its input.
//
// Rows with missing or non-positive close, zero volume, a missing field or a
// negative value are dropped. The rest are sorted by date; when a date repeats, the occurrence that
// came last in the input wins. Clean is idempotent.
func Clean(bars []models.Bar) []models.Bar {
	out, _ := CleanWithStats(bars)
	return out
}

// CleanWithStats is Clean plus a breakdown of removed rows.
func CleanWithStats(bars []models.Bar) ([]models.Bar, CleanStats) {
	stats := CleanStats{Input: len(bars)}

	kept := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		switch {
		case models.Missing(b.Close) || b.Close <= 0:
			stats.BadClose++
		case !models.Missing(b.Volume) && b.Volume == 0:
			stats.ZeroVolume++
		case !b.IsComplete() || !finite(b):
			stats.Incomplete++
		case negative(b):
			stats.Negative++
		default:
			b.Date = models.Day(b.Date)
			kept = append(kept, b)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Date.Before(kept[j].Date) })

	// Within a run of equal dates the stable sort preserved input order,
	// so the last element of each run is the later occurrence.
	out := make([]models.Bar, 0, len(kept))
	for i, b := range kept {
		if i+1 < len(kept) && kept[i+1].Date.Equal(b.Date) {
			stats.Duplicates++
			continue
		}
		out = append(out, b)
	}

	stats.Output = len(out)
	return out, stats
}

// CheckSeries verifies that bars already satisfy the cleaned-series invariants.
func CheckSeries(bars []models.Bar) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return fmt.Errorf("row %d (%s): %w", i, bars[i].Date.Format(models.DateLayout), err)
		}
		if i > 0 && !bars[i].Date.After(bars[i-1].Date) {
			return fmt.Errorf("row %d (%s): dates not strictly ascending", i, bars[i].Date.Format(models.DateLayout))
		}
	}
	return nil
}

func finite(b models.Bar) bool {
	for _, f := range models.BarFields {
		if math.IsInf(b.Value(f), 0) {
			return false
		}
	}
	return true
}

func negative(b models.Bar) bool {
	for _, f := range models.BarFields {
		if b.Value(f) < 0 {
			return true
		}
	}
	return false
}
