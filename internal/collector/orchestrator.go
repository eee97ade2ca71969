// Package collector drives the acquisition pipeline: it splits the requested range
// into segments, fetches each with retry, assembles and cleans the series, and
// writes artifacts, one instrument at a time.
//
// The upstream source is a stateful local cache that does not tolerate overlapping
// requests, so nothing in this package fetches concurrently.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/logger"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/source"
	"github.com/johnayoung/go-ohlcv-archiver/internal/storage"
	"github.com/johnayoung/go-ohlcv-archiver/internal/validator"
)

// BatchConfig is the shared configuration of one batch.
type BatchConfig struct {
	Range           models.DateRange
	Period          string
	Adjustment      string
	YearsPerSegment int
	Retry           config.RetryPolicyConfig
	Formats         []string
	Pause           time.Duration
	OutputDir       string
	WriteListing    bool
	WriteReport     bool
}

// BatchConfigFrom resolves a BatchConfig from application configuration.
// An empty end date resolves to today.
func BatchConfigFrom(cfg *config.AppConfig, today time.Time) (BatchConfig, error) {
	start, end, err := cfg.Download.DateRange(today)
	if err != nil {
		return BatchConfig{}, err
	}
	r, err := models.NewDateRange(start, end)
	if err != nil {
		return BatchConfig{}, err
	}
	return BatchConfig{
		Range:           r,
		Period:          cfg.Download.Period,
		Adjustment:      cfg.Download.DividendType,
		YearsPerSegment: cfg.Download.YearsPerSegment,
		Retry:           cfg.Download.Retry,
		Formats:         config.NormalizeFormats(cfg.Output.Formats),
		Pause:           cfg.Download.PauseDuration(),
		OutputDir:       cfg.Output.Dir,
		WriteListing:    cfg.Output.WriteListing,
		WriteReport:     cfg.Output.WriteReport,
	}, nil
}

// Orchestrator runs batches of instruments through the pipeline.
type Orchestrator struct {
	source  source.Source
	cfg     BatchConfig
	catalog *storage.Catalog
	stats   *RunStats
	logger  *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog upserts re-derived coverage into c after each batch.
func WithCatalog(c *storage.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithStats records counters into s instead of a private tracker.
func WithStats(s *RunStats) Option {
	return func(o *Orchestrator) { o.stats = s }
}

// NewOrchestrator creates an orchestrator over src.
func NewOrchestrator(src source.Source, cfg BatchConfig, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		source: src,
		cfg:    cfg,
		logger: log.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stats == nil {
		o.stats = NewRunStats()
	}
	return o
}

// Stats returns the counters the orchestrator records into.
func (o *Orchestrator) Stats() *RunStats {
	return o.stats
}

// DownloadBatch processes ids in order and returns one outcome per processed
// instrument. A failing instrument never aborts the batch.
//
// The only fatal error is failing to open the output root, in which case no
// outcomes are returned. If ctx is cancelled, the outcomes gathered so far are
// returned together with ctx.Err(); instruments not yet started are absent.
func (o *Orchestrator) DownloadBatch(ctx context.Context, ids []string) (map[string]models.Outcome, error) {
	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, o.logger)

	out, err := storage.OpenOutput(ctx, o.cfg.OutputDir)
	if err != nil {
		log.Error("cannot open output directory", "dir", o.cfg.OutputDir, "error", err)
		return nil, apperrors.New(apperrors.KindOutputDir, "", err)
	}
	defer out.Close()

	ids = uniqueIDs(ids, log)
	segments := SplitRange(o.cfg.Range.Start, o.cfg.Range.End, o.cfg.YearsPerSegment)
	fetcher := NewSegmentFetcher(o.source, o.cfg.Retry, o.stats, o.logger)
	writer := storage.NewMultiFormatWriter(out, o.logger)

	log.Info("batch started",
		"instruments", len(ids),
		"range", o.cfg.Range.String(),
		"segments", len(segments),
		"formats", o.cfg.Formats,
		"output_dir", out.Dir())

	batchStart := time.Now()
	outcomes := make(map[string]models.Outcome, len(ids))
	var runErr error

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		ictx := logger.WithInstrument(ctx, id)
		outcome := o.runInstrument(ictx, id, segments, fetcher, writer)
		outcomes[id] = outcome
		o.stats.recordOutcome(outcome)

		if i < len(ids)-1 && o.cfg.Pause > 0 {
			select {
			case <-time.After(o.cfg.Pause):
			case <-ctx.Done():
			}
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	// Finalization runs even after cancellation so that completed work is listed.
	o.finalize(context.WithoutCancel(ctx), out, runID, ids, outcomes)

	succeeded := 0
	for _, oc := range outcomes {
		if oc.Succeeded() {
			succeeded++
		}
	}
	log.Info("batch finished",
		"processed", len(outcomes),
		"succeeded", succeeded,
		"failed", len(outcomes)-succeeded,
		"duration", time.Since(batchStart),
		"cancelled", runErr != nil)

	return outcomes, runErr
}

func (o *Orchestrator) runInstrument(ctx context.Context, id string, segments []models.DateRange, fetcher *SegmentFetcher, writer *storage.MultiFormatWriter) models.Outcome {
	log := logger.FromContext(ctx, o.logger)
	start := time.Now()
	outcome := models.Outcome{Instrument: id, Status: models.OutcomeFailure}
	finish := func(err error) models.Outcome {
		outcome.Duration = time.Since(start)
		if err != nil {
			outcome.Err = err
			outcome.Reason = err.Error()
		}
		return outcome
	}

	log.Info("instrument started", "segments", len(segments))

	spec := FetchSpec{Instrument: id, Period: o.cfg.Period, Adjustment: o.cfg.Adjustment}
	results := make([]models.SegmentResult, 0, len(segments))
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			log.Warn("instrument interrupted", "error", err)
			return finish(fmt.Errorf("interrupted: %w", err))
		}
		results = append(results, fetcher.Fetch(ctx, spec, seg))
	}
	if err := ctx.Err(); err != nil {
		log.Warn("instrument interrupted", "error", err)
		return finish(fmt.Errorf("interrupted: %w", err))
	}

	asm := Assemble(results)
	outcome.RawRows = len(asm.Bars)
	outcome.MissingSegments = asm.Missing

	if asm.NoData() {
		cause := fmt.Errorf("%d segments empty, %d failed", asm.Empty, len(asm.Missing))
		if len(asm.Errors) > 0 {
			cause = fmt.Errorf("%w: %w", cause, errors.Join(asm.Errors...))
		}
		err := apperrors.New(apperrors.KindNoData, id, cause)
		log.Error("instrument produced no data", "error", err)
		return finish(err)
	}

	cleaned, cs := validator.CleanWithStats(asm.Bars)
	outcome.Rows = len(cleaned)
	log.Debug("series cleaned",
		"raw_rows", cs.Input,
		"rows", cs.Output,
		"zero_volume", cs.ZeroVolume,
		"bad_close", cs.BadClose,
		"incomplete", cs.Incomplete,
		"negative", cs.Negative,
		"duplicates", cs.Duplicates)

	if len(cleaned) == 0 {
		err := apperrors.New(apperrors.KindEmptyAfterClean, id,
			fmt.Errorf("all %d fetched rows were invalid", cs.Input))
		log.Error("nothing survived cleaning", "error", err)
		return finish(err)
	}
	outcome.Coverage = &models.DateRange{Start: cleaned[0].Date, End: cleaned[len(cleaned)-1].Date}

	outcome.Formats = writer.Write(ctx, id, cleaned, o.cfg.Formats)
	var writeErrs []error
	written := 0
	for _, f := range outcome.Formats {
		if f.OK() {
			written++
		} else {
			writeErrs = append(writeErrs, errors.New(f.Error))
		}
	}
	if written == 0 {
		err := apperrors.New(apperrors.KindWrite, id, errors.Join(writeErrs...))
		log.Error("no artifact written", "error", err)
		return finish(err)
	}

	outcome.Status = models.OutcomeSuccess
	if asm.Partial() {
		outcome.Partial = true
		missing := make([]string, len(asm.Missing))
		for i, m := range asm.Missing {
			missing[i] = m.String()
		}
		log.Warn("instrument archived with missing segments",
			"missing_segments", missing,
			"rows", outcome.Rows)
	}

	log.Info("instrument archived",
		"rows", outcome.Rows,
		"coverage", outcome.Coverage.String(),
		"artifacts", written,
		"duration", time.Since(start))
	return finish(nil)
}

// finalize re-derives coverage from the written artifacts, then writes the
// listing, the catalog and the run report. Failures here are logged only.
func (o *Orchestrator) finalize(ctx context.Context, out *storage.Output, runID string, ids []string, outcomes map[string]models.Outcome) {
	log := logger.FromContext(ctx, o.logger)

	if o.cfg.WriteListing || o.catalog != nil {
		records := o.coverage(ctx, out, ids, outcomes)

		if o.cfg.WriteListing {
			csvErr, xlsxErr := out.WriteListing(ctx, records, containsFormat(o.cfg.Formats, storage.FormatXLSX))
			if csvErr != nil {
				log.Error("failed to write listing", "error", csvErr)
			}
			if xlsxErr != nil {
				log.Warn("failed to write spreadsheet listing", "error", xlsxErr)
			}
		}
		if o.catalog != nil {
			if err := o.catalog.Upsert(ctx, runID, records); err != nil {
				log.Error("failed to update catalog", "error", err)
			}
		}
	}

	if o.cfg.WriteReport {
		report := buildRunReport(ids, outcomes, o.cfg.Range)
		if err := report.write(ctx, out); err != nil {
			log.Error("failed to write run report", "error", err)
		}
		if len(report.Failed) > 0 {
			log.Warn("instruments failed", "count", len(report.Failed), "reasons", joinFailedReasons(report.Failed))
		}
	}
}

// coverage reads back each successful instrument's primary artifact.
func (o *Orchestrator) coverage(ctx context.Context, out *storage.Output, ids []string, outcomes map[string]models.Outcome) []models.CoverageRecord {
	log := logger.FromContext(ctx, o.logger)
	var records []models.CoverageRecord
	for _, id := range ids {
		oc, ok := outcomes[id]
		if !ok || !oc.Succeeded() {
			continue
		}
		format := primaryFormat(oc.Formats)
		rec, err := out.CoverageOf(ctx, id, format)
		if err != nil {
			log.Error("written artifact could not be read back", "instrument", id, "format", format, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// primaryFormat picks the first successfully written required format, falling back
// to any written format.
func primaryFormat(results []models.FormatResult) string {
	fallback := ""
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if !storage.Optional(r.Format) {
			return r.Format
		}
		if fallback == "" {
			fallback = r.Format
		}
	}
	return fallback
}

func containsFormat(formats []string, want string) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []string, log *slog.Logger) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if seen[id] {
			log.Warn("duplicate instrument ignored", "instrument", id)
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
