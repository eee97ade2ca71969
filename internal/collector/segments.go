package collector

import (
	"time"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// SplitRange partitions the inclusive range [start, end] into contiguous segments
// of at most years calendar years each, ordered ascending.
//
// A segment starting at s ends at s+years (calendar), clipped to end; the next
// starts the following day. A range of exactly years therefore yields a single
// segment ending on the boundary day. start after end yields nil.
func SplitRange(start, end time.Time, years int) []models.DateRange {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil
	}
	if years < 1 {
		years = 1
	}

	var segments []models.DateRange
	for cur := start; !cur.After(end); {
		segEnd := cur.AddDate(years, 0, 0)
		if segEnd.After(end) {
			segEnd = end
		}
		segments = append(segments, models.DateRange{Start: cur, End: segEnd})
		cur = segEnd.AddDate(0, 0, 1)
	}
	return segments
}
