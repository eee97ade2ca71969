package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/storage"
)

const (
	successReportKey = ".lastrun.success.json"
	failedReportKey  = ".lastrun.failed.json"
)

type successEntry struct {
	Code            string   `json:"code"`
	Rows            int      `json:"rows"`
	DateRange       string   `json:"date_range,omitempty"`
	Partial         bool     `json:"partial,omitempty"`
	MissingSegments []string `json:"missing_segments,omitempty"`
}

type failedEntry struct {
	Code      string `json:"code"`
	DateRange string `json:"date_range"`
	Reason    string `json:"reason"`
}

// runReport is the per-run record of which instruments succeeded or failed.
type runReport struct {
	Success []successEntry
	Failed  []failedEntry
}

func buildRunReport(order []string, outcomes map[string]models.Outcome, requested models.DateRange) runReport {
	var r runReport
	for _, id := range order {
		o, ok := outcomes[id]
		if !ok {
			continue
		}
		if !o.Succeeded() {
			r.Failed = append(r.Failed, failedEntry{Code: id, DateRange: requested.String(), Reason: o.Reason})
			continue
		}
		e := successEntry{Code: id, Rows: o.Rows, Partial: o.Partial}
		if o.Coverage != nil {
			e.DateRange = o.Coverage.String()
		}
		for _, seg := range o.MissingSegments {
			e.MissingSegments = append(e.MissingSegments, seg.String())
		}
		r.Success = append(r.Success, e)
	}
	return r
}

// write stores both report files. A side with no entries is removed so a stale
// file from an earlier run is not mistaken for this one.
func (r runReport) write(ctx context.Context, out *storage.Output) error {
	if err := writeJSON(ctx, out, successReportKey, r.Success); err != nil {
		return err
	}
	return writeJSON(ctx, out, failedReportKey, r.Failed)
}

func writeJSON[T any](ctx context.Context, out *storage.Output, key string, entries []T) error {
	if len(entries) == 0 {
		return out.Delete(ctx, key)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return out.WriteAtomic(ctx, key, "application/json", func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// joinFailedReasons renders at most five failures for a single log line.
func joinFailedReasons(failed []failedEntry) string {
	if len(failed) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range failed {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Code)
		b.WriteString(": ")
		b.WriteString(f.Reason)
		if i >= 4 && len(failed) > 5 {
			b.WriteString(fmt.Sprintf(" (+%d more)", len(failed)-5))
			break
		}
	}
	return b.String()
}
