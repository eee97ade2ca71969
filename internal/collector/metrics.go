package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// RunStats tracks counters for one or more batches. It is safe for concurrent use
// so the scheduler can read it while a batch runs.
type RunStats struct {
	instrumentsSucceeded int64
	instrumentsFailed    int64
	instrumentsPartial   int64

	segmentsRows  int64
	segmentsEmpty int64
	segmentsError int64

	attempts      int64
	attemptErrors int64
	rowsFetched   int64
	rowsDropped   int64
	rowsWritten   int64

	artifactsWritten int64
	artifactsFailed  int64

	// Upstream call time tracking
	totalCallTime int64 // nanoseconds
	callCount     int64

	startTime time.Time
	mutex     sync.RWMutex
}

// RunMetrics is a point-in-time snapshot of RunStats.
type RunMetrics struct {
	InstrumentsSucceeded int64         `json:"instruments_succeeded"`
	InstrumentsFailed    int64         `json:"instruments_failed"`
	InstrumentsPartial   int64         `json:"instruments_partial"`
	SegmentsRows         int64         `json:"segments_rows"`
	SegmentsEmpty        int64         `json:"segments_empty"`
	SegmentsError        int64         `json:"segments_error"`
	Attempts             int64         `json:"attempts"`
	AttemptErrors        int64         `json:"attempt_errors"`
	RowsFetched          int64         `json:"rows_fetched"`
	RowsDropped          int64         `json:"rows_dropped"`
	RowsWritten          int64         `json:"rows_written"`
	ArtifactsWritten     int64         `json:"artifacts_written"`
	ArtifactsFailed      int64         `json:"artifacts_failed"`
	AvgCallTime          time.Duration `json:"avg_call_time"`
	SuccessRate          float64       `json:"success_rate"`
	Elapsed              time.Duration `json:"elapsed"`
}

// NewRunStats creates an empty stats tracker.
func NewRunStats() *RunStats {
	return &RunStats{startTime: time.Now()}
}

func (m *RunStats) recordAttempt(duration time.Duration, err error) {
	atomic.AddInt64(&m.attempts, 1)
	atomic.AddInt64(&m.totalCallTime, duration.Nanoseconds())
	atomic.AddInt64(&m.callCount, 1)
	if err != nil {
		atomic.AddInt64(&m.attemptErrors, 1)
	}
}

func (m *RunStats) recordSegment(status models.FetchStatus, rows int) {
	switch status {
	case models.FetchRows:
		atomic.AddInt64(&m.segmentsRows, 1)
	case models.FetchEmpty:
		atomic.AddInt64(&m.segmentsEmpty, 1)
	case models.FetchError:
		atomic.AddInt64(&m.segmentsError, 1)
	}
	atomic.AddInt64(&m.rowsFetched, int64(rows))
}

func (m *RunStats) recordOutcome(o models.Outcome) {
	if o.Succeeded() {
		atomic.AddInt64(&m.instrumentsSucceeded, 1)
		atomic.AddInt64(&m.rowsWritten, int64(o.Rows))
	} else {
		atomic.AddInt64(&m.instrumentsFailed, 1)
	}
	if o.Partial {
		atomic.AddInt64(&m.instrumentsPartial, 1)
	}
	if o.RawRows > o.Rows {
		atomic.AddInt64(&m.rowsDropped, int64(o.RawRows-o.Rows))
	}
	for _, f := range o.Formats {
		if f.OK() {
			atomic.AddInt64(&m.artifactsWritten, 1)
		} else {
			atomic.AddInt64(&m.artifactsFailed, 1)
		}
	}
}

// Snapshot returns the current counters.
func (m *RunStats) Snapshot() RunMetrics {
	succeeded := atomic.LoadInt64(&m.instrumentsSucceeded)
	failed := atomic.LoadInt64(&m.instrumentsFailed)
	totalCallTime := atomic.LoadInt64(&m.totalCallTime)
	callCount := atomic.LoadInt64(&m.callCount)

	var successRate float64
	if total := succeeded + failed; total > 0 {
		successRate = float64(succeeded) / float64(total)
	}

	var avgCallTime time.Duration
	if callCount > 0 {
		avgCallTime = time.Duration(totalCallTime / callCount)
	}

	m.mutex.RLock()
	elapsed := time.Since(m.startTime)
	m.mutex.RUnlock()

	return RunMetrics{
		InstrumentsSucceeded: succeeded,
		InstrumentsFailed:    failed,
		InstrumentsPartial:   atomic.LoadInt64(&m.instrumentsPartial),
		SegmentsRows:         atomic.LoadInt64(&m.segmentsRows),
		SegmentsEmpty:        atomic.LoadInt64(&m.segmentsEmpty),
		SegmentsError:        atomic.LoadInt64(&m.segmentsError),
		Attempts:             atomic.LoadInt64(&m.attempts),
		AttemptErrors:        atomic.LoadInt64(&m.attemptErrors),
		RowsFetched:          atomic.LoadInt64(&m.rowsFetched),
		RowsDropped:          atomic.LoadInt64(&m.rowsDropped),
		RowsWritten:          atomic.LoadInt64(&m.rowsWritten),
		ArtifactsWritten:     atomic.LoadInt64(&m.artifactsWritten),
		ArtifactsFailed:      atomic.LoadInt64(&m.artifactsFailed),
		AvgCallTime:          avgCallTime,
		SuccessRate:          successRate,
		Elapsed:              elapsed,
	}
}

// Reset zeroes every counter and restarts the clock.
func (m *RunStats) Reset() {
	for _, p := range []*int64{
		&m.instrumentsSucceeded, &m.instrumentsFailed, &m.instrumentsPartial,
		&m.segmentsRows, &m.segmentsEmpty, &m.segmentsError,
		&m.attempts, &m.attemptErrors, &m.rowsFetched, &m.rowsDropped, &m.rowsWritten,
		&m.artifactsWritten, &m.artifactsFailed, &m.totalCallTime, &m.callCount,
	} {
		atomic.StoreInt64(p, 0)
	}

	m.mutex.Lock()
	m.startTime = time.Now()
	m.mutex.Unlock()
}
