package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/logger"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/source"
)

// FetchSpec names what to fetch for an instrument.
type FetchSpec struct {
	Instrument string
	Period     string
	Adjustment string
}

// SegmentFetcher fetches one segment with bounded retry.
type SegmentFetcher struct {
	source source.Source
	policy config.RetryPolicyConfig
	fields []models.Field
	stats  *RunStats
	logger *slog.Logger
}

// NewSegmentFetcher creates a fetcher that requests every bar field.
// stats may be nil.
func NewSegmentFetcher(src source.Source, policy config.RetryPolicyConfig, stats *RunStats, log *slog.Logger) *SegmentFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &SegmentFetcher{
		source: src,
		policy: policy,
		fields: models.BarFields,
		stats:  stats,
		logger: log.With("component", "segment_fetcher"),
	}
}

// Fetch returns Rows, Empty or Error for one segment. The first Rows or Empty
// result stops retrying; a terminal Error carries the last cause and the number
// of attempts made.
func (f *SegmentFetcher) Fetch(ctx context.Context, spec FetchSpec, seg models.DateRange) models.SegmentResult {
	ctx = logger.WithSegment(ctx, seg.String())
	log := logger.FromContext(ctx, f.logger)

	var attempts int
	var bars []models.Bar
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		f.prime(ctx, log, spec, seg)

		start := time.Now()
		got, err := f.fetchOnce(ctx, spec, seg)
		if f.stats != nil {
			f.stats.recordAttempt(time.Since(start), err)
		}
		if err != nil {
			return err
		}
		bars = got
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("segment fetch failed, retrying",
			"attempt", attempts,
			"max_attempts", f.policy.MaxAttempts,
			"retry_in", wait,
			"error", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(apperrors.NewBackOff(f.policy), ctx), notify)
	result := models.SegmentResult{Segment: seg, Attempts: attempts}

	switch {
	case err != nil:
		result.Status = models.FetchError
		result.Err = apperrors.NewSegmentFetchError(spec.Instrument, seg.String(), result.Attempts, err)
		log.Error("segment fetch exhausted retries", "attempts", result.Attempts, "error", err)
	case len(bars) == 0:
		result.Status = models.FetchEmpty
		log.Debug("segment empty", "attempts", result.Attempts)
	default:
		result.Status = models.FetchRows
		result.Bars = bars
		log.Debug("segment fetched", "rows", len(bars), "attempts", result.Attempts)
	}
	if f.stats != nil {
		f.stats.recordSegment(result.Status, len(result.Bars))
	}
	return result
}

// prime warms the upstream cache. Its outcome is logged and otherwise ignored.
func (f *SegmentFetcher) prime(ctx context.Context, log *slog.Logger, spec FetchSpec, seg models.DateRange) {
	pctx, cancel := f.callContext(ctx)
	defer cancel()
	if err := f.source.PrimeCache(pctx, spec.Instrument, spec.Period, seg); err != nil {
		log.Warn("cache priming failed", "error", err)
	}
}

func (f *SegmentFetcher) fetchOnce(ctx context.Context, spec FetchSpec, seg models.DateRange) ([]models.Bar, error) {
	cctx, cancel := f.callContext(ctx)
	defer cancel()

	data, err := f.source.FetchFields(cctx, f.fields, source.Request{
		Instrument: spec.Instrument,
		Period:     spec.Period,
		Range:      seg,
		Adjustment: spec.Adjustment,
		FillData:   false,
	})
	if err != nil {
		return nil, err
	}
	return source.Reshape(data, f.fields)
}

func (f *SegmentFetcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := f.policy.AttemptTimeoutDuration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
