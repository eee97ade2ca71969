// Package manifest re-reads persisted artifacts and reports, per instrument,
// whether a usable series exists and what it covers.
//
// A manifest is derived from the artifacts alone and can be regenerated at any
// time; it never consults the state of the run that produced them.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/storage"
	"github.com/johnayoung/go-ohlcv-archiver/internal/validator"
)

// FileName is the manifest key at the output root.
const FileName = storage.ManifestName + ".json"

// Validator builds manifests from an output root.
type Validator struct {
	out    *storage.Output
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a validator over out.
func NewValidator(out *storage.Output, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		out:    out,
		logger: logger.With("component", "manifest_validator"),
		now:    time.Now,
	}
}

// Validate inspects the artifact of each instrument in ids for format. An empty
// ids validates every artifact of that format found at the output root.
//
// A missing or unreadable artifact degrades its own entry to an error record;
// only an unsupported format or a failure to list the root is returned as an error.
func (v *Validator) Validate(ctx context.Context, ids []string, format string) (*models.Manifest, error) {
	codec, err := storage.CodecFor(format)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		ids, err = v.out.Instruments(ctx, codec.Extension())
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", err)
		}
	}

	m := &models.Manifest{
		GeneratedAt: v.now().UTC(),
		OutputDir:   v.out.Dir(),
		Format:      codec.Format(),
		Entries:     make([]models.ManifestEntry, 0, len(ids)),
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, v.inspect(ctx, id, codec.Format()))
	}
	m.Tally()

	v.logger.Info("manifest built",
		"format", m.Format,
		"total", m.Total,
		"complete", m.Complete,
		"errored", m.Errored)
	return m, nil
}

func (v *Validator) inspect(ctx context.Context, id, format string) models.ManifestEntry {
	entry := models.ManifestEntry{Code: id}

	series, err := v.out.ReadSeries(ctx, id, format)
	if series != nil {
		entry.Fields = series.Fields
		entry.FileSize = series.Size
		entry.FileSizeMB = sizeMB(series.Size)
	}

	switch {
	case storage.IsNotFound(err):
		return v.degrade(entry, apperrors.New(apperrors.KindArtifactMissing, id, err))
	case err != nil:
		entry.Exists = true
		return v.degrade(entry, apperrors.New(apperrors.KindArtifactCorrupt, id, err))
	}

	entry.Exists = true
	entry.Count = len(series.Bars)
	cov, ok := series.Coverage()
	if !ok {
		return v.degrade(entry, apperrors.New(apperrors.KindArtifactCorrupt, id, errors.New("artifact has no rows")))
	}
	if err := validator.CheckSeries(series.Bars); err != nil {
		return v.degrade(entry, apperrors.New(apperrors.KindArtifactCorrupt, id, err))
	}
	entry.StartDate = cov.Start.Format(models.DateLayout)
	entry.EndDate = cov.End.Format(models.DateLayout)
	entry.LargestGap = largestGap(series.Bars)
	return entry
}

func (v *Validator) degrade(entry models.ManifestEntry, err *apperrors.PipelineError) models.ManifestEntry {
	entry.Error = err.Error()
	v.logger.Warn("artifact failed validation", "instrument", entry.Code, "kind", err.Kind, "error", err.Err)
	return entry
}

// Write stores m as indented JSON at the output root.
func (v *Validator) Write(ctx context.Context, m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return v.out.WriteAtomic(ctx, FileName, "application/json", func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Read loads a previously written manifest.
func Read(ctx context.Context, out *storage.Output) (*models.Manifest, error) {
	data, err := out.ReadAll(ctx, FileName)
	if err != nil {
		return nil, err
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storage.NewStorageError("decode", FileName, err)
	}
	return &m, nil
}

func sizeMB(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}

// largestGap returns the widest spacing, in calendar days, between consecutive
// bars. Bars are assumed ascending.
func largestGap(bars []models.Bar) int {
	widest := 0
	for i := 1; i < len(bars); i++ {
		d := int(bars[i].Date.Sub(bars[i-1].Date).Hours() / 24)
		if d > widest {
			widest = d
		}
	}
	return widest
}
