package storage

import (
	"context"
	"io"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/logger"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// MultiFormatWriter writes one artifact per requested format. Formats are written
// independently: a failure in one never touches the artifact of another.
type MultiFormatWriter struct {
	out    *Output
	logger *slog.Logger
}

// NewMultiFormatWriter creates a writer over an opened output root.
func NewMultiFormatWriter(out *Output, log *slog.Logger) *MultiFormatWriter {
	if log == nil {
		log = slog.Default()
	}
	return &MultiFormatWriter{out: out, logger: log.With("component", "writer")}
}

// Write persists bars for instrument in each format and reports per-format results
// in request order. Existing artifacts are overwritten.
func (w *MultiFormatWriter) Write(ctx context.Context, instrument string, bars []models.Bar, formats []string) []models.FormatResult {
	results := make([]models.FormatResult, 0, len(formats))
	for _, format := range formats {
		fctx := logger.WithFormat(ctx, format)
		results = append(results, w.writeOne(fctx, instrument, bars, format))
	}
	return results
}

func (w *MultiFormatWriter) writeOne(ctx context.Context, instrument string, bars []models.Bar, format string) models.FormatResult {
	log := logger.FromContext(ctx, w.logger)
	result := models.FormatResult{Format: format}

	codec, err := CodecFor(format)
	if err != nil {
		result.Error = apperrors.NewWriteError(instrument, format, err).Error()
		log.Error("unsupported output format", "error", err)
		return result
	}
	result.Key = ArtifactKey(instrument, codec.Extension())

	start := time.Now()
	err = w.out.WriteAtomic(ctx, result.Key, codec.ContentType(), func(dst io.Writer) error {
		return codec.Encode(dst, bars)
	})
	if err != nil {
		result.Error = apperrors.NewWriteError(instrument, format, err).Error()
		if Optional(format) {
			log.Warn("optional format not written", "key", result.Key, "error", err)
		} else {
			log.Error("failed to write artifact", "key", result.Key, "error", err)
		}
		return result
	}

	if size, err := w.out.Size(ctx, result.Key); err == nil {
		result.Size = size
	}
	log.Debug("artifact written",
		"key", result.Key,
		"rows", len(bars),
		"bytes", result.Size,
		"duration", time.Since(start))
	return result
}
