package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// Format tags.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatXLSX    = "xlsx"
)

// Codec encodes a cleaned series to one on-disk representation and decodes it back.
type Codec interface {
	Format() string
	Extension() string
	ContentType() string
	Encode(w io.Writer, bars []models.Bar) error
	// Decode returns the column names found in the artifact and its rows.
	Decode(data []byte) ([]string, []models.Bar, error)
}

// CodecFor returns the codec for a format tag.
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatParquet:
		return ParquetCodec{}, nil
	case FormatCSV:
		return CSVCodec{}, nil
	case FormatXLSX, "excel":
		return XLSXCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (use parquet, csv or xlsx)", ErrUnsupportedFormat, format)
	}
}

// Optional reports whether a format is best-effort. A failed optional format is
// logged but does not count against the instrument.
func Optional(format string) bool {
	return format == FormatXLSX
}

// SupportedFormats lists the known format tags, primary first.
func SupportedFormats() []string {
	return []string{FormatParquet, FormatCSV, FormatXLSX}
}

// checkColumns verifies that every bar column is present in fields.
func checkColumns(fields []string) error {
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f] = true
	}
	var missing []string
	for _, c := range models.ColumnNames() {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ","))
	}
	return nil
}
