package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used in artifacts and reports.
const DateLayout = "2006-01-02"

// CompactDateLayout is the upstream wire format for dates.
const CompactDateLayout = "20060102"

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar date.
func Today() time.Time {
	return Day(time.Now())
}

// ParseDate accepts YYYYMMDD or YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := DateLayout
	if len(s) == len(CompactDateLayout) && !strings.Contains(s, "-") {
		layout = CompactDateLayout
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYYMMDD or YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange builds a range from two dates, truncated to days.
// It returns an error when start is after end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("start %s is after end %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

// Days returns the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + "~" + r.End.Format(DateLayout)
}
