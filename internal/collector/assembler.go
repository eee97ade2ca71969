package collector

import (
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// Assembly is the concatenation of an instrument's segment results.
type Assembly struct {
	Bars    []models.Bar
	Rows    int // segments that returned rows
	Empty   int // segments queried successfully with nothing in range
	Missing []models.DateRange
	Errors  []error
}

// Assemble concatenates Rows results in segment order. It neither sorts nor
// deduplicates; boundary overlaps are resolved by the cleaner.
func Assemble(results []models.SegmentResult) Assembly {
	var a Assembly
	for _, r := range results {
		switch r.Status {
		case models.FetchRows:
			a.Rows++
			a.Bars = append(a.Bars, r.Bars...)
		case models.FetchEmpty:
			a.Empty++
		case models.FetchError:
			a.Missing = append(a.Missing, r.Segment)
			if r.Err != nil {
				a.Errors = append(a.Errors, r.Err)
			}
		}
	}
	return a
}

// NoData reports whether no segment contributed a row.
func (a Assembly) NoData() bool {
	return len(a.Bars) == 0
}

// Partial reports whether some segments were lost while others produced rows.
func (a Assembly) Partial() bool {
	return len(a.Missing) > 0 && !a.NoData()
}
