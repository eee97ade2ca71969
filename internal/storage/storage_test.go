package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleBars() []models.Bar {
	return []models.Bar{
		{Date: day("2020-01-02"), Open: 16.65, High: 16.95, Low: 16.55, Close: 16.87, Volume: 1530231, Amount: 2571196416.12},
		{Date: day("2020-01-03"), Open: 16.94, High: 17.31, Low: 16.92, Close: 17.18, Volume: 1116194, Amount: 1914495465.5},
		{Date: day("2020-01-06"), Open: 17.01, High: 17.34, Low: 16.91, Close: 17.07, Volume: 862083, Amount: 1477930239},
	}
}

func newMemOutput(t *testing.T) *Output {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	out := NewOutput(bucket, "mem")
	t.Cleanup(func() { _ = out.Close() })
	return out
}

func TestCodecs_RoundTrip(t *testing.T) {
	for _, format := range SupportedFormats() {
		t.Run(format, func(t *testing.T) {
			codec, err := CodecFor(format)
			require.NoError(t, err)

			out := newMemOutput(t)
			ctx := context.Background()
			key := ArtifactKey("000001.SZ", codec.Extension())
			require.NoError(t, out.WriteAtomic(ctx, key, codec.ContentType(), func(w io.Writer) error {
				return codec.Encode(w, sampleBars())
			}))

			series, err := out.ReadSeries(ctx, "000001.SZ", format)
			require.NoError(t, err)
			assert.Equal(t, sampleBars(), series.Bars)
			assert.ElementsMatch(t, models.ColumnNames(), series.Fields)
			assert.Positive(t, series.Size)

			cov, ok := series.Coverage()
			require.True(t, ok)
			assert.Equal(t, day("2020-01-02"), cov.Start)
			assert.Equal(t, day("2020-01-06"), cov.End)
		})
	}
}

func TestCodecFor_Unsupported(t *testing.T) {
	_, err := CodecFor("feather")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	c, err := CodecFor(" Excel ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, c.Format())
	assert.True(t, Optional(FormatXLSX))
	assert.False(t, Optional(FormatParquet))
}

func TestCSVCodec_Layout(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())

	results := w.Write(ctx, "000001.SZ", sampleBars()[:1], []string{FormatCSV})
	require.Len(t, results, 1)
	require.True(t, results[0].OK(), results[0].Error)

	data, err := out.ReadAll(ctx, "000001.SZ.csv")
	require.NoError(t, err)
	want := "\ufeffdate,open,high,low,close,volume,amount\n" +
		"2020-01-02,16.65,16.95,16.55,16.87,1530231,2571196416.12\n"
	assert.Equal(t, want, string(data))
}

func TestCSVCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "missing column", data: "date,open,high,low,close,volume\n2020-01-02,1,1,1,1,1\n"},
		{name: "bad date", data: "date,open,high,low,close,volume,amount\n2020/01/02,1,1,1,1,1,1\n"},
		{name: "bad number", data: "date,open,high,low,close,volume,amount\n2020-01-02,x,1,1,1,1,1\n"},
		{name: "short row", data: "date,open,high,low,close,volume,amount\n2020-01-02,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CSVCodec{}.Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, _, err := CSVCodec{}.Decode([]byte("date,open\n"))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestCSVCodec_ColumnOrderIndependent(t *testing.T) {
	data := "amount,volume,close,low,high,open,date\n6,5,4,3,2,1,20200102\n"
	fields, bars, err := CSVCodec{}.Decode([]byte(data))
	require.NoError(t, err)
	assert.Len(t, fields, 7)
	require.Len(t, bars, 1)
	assert.Equal(t, models.Bar{Date: day("2020-01-02"), Open: 1, High: 2, Low: 3, Close: 4, Volume: 5, Amount: 6}, bars[0])
}

func TestParquetCodec_Corrupt(t *testing.T) {
	_, _, err := ParquetCodec{}.Decode([]byte("not a parquet file"))
	assert.Error(t, err)
}

func TestWriteAtomic_FailureKeepsPreviousObject(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()

	require.NoError(t, out.WriteAtomic(ctx, "a.csv", "text/csv", func(w io.Writer) error {
		_, err := io.WriteString(w, "original")
		return err
	}))

	boom := errors.New("encode failed")
	err := out.WriteAtomic(ctx, "a.csv", "text/csv", func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	data, err := out.ReadAll(ctx, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestMultiFormatWriter_IsolatesFormats(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())

	results := w.Write(ctx, "600000.SH", sampleBars(), []string{FormatParquet, "feather", FormatCSV})
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.Equal(t, "600000.SH.parquet", results[0].Key)
	assert.Positive(t, results[0].Size)

	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Error, "unsupported format")

	assert.True(t, results[2].OK())
	assert.Equal(t, "600000.SH.csv", results[2].Key)

	for _, key := range []string{"600000.SH.parquet", "600000.SH.csv"} {
		ok, err := out.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestMultiFormatWriter_Overwrites(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())

	w.Write(ctx, "X", sampleBars(), []string{FormatParquet})
	w.Write(ctx, "X", sampleBars()[:1], []string{FormatParquet})

	s, err := out.ReadSeries(ctx, "X", FormatParquet)
	require.NoError(t, err)
	assert.Len(t, s.Bars, 1)
}

func TestOutput_ReadMissing(t *testing.T) {
	out := newMemOutput(t)
	_, err := out.ReadSeries(context.Background(), "nope", FormatParquet)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = out.Size(context.Background(), "nope.parquet")
	assert.True(t, IsNotFound(err))
}

func TestOutput_Instruments(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())

	w.Write(ctx, "B", sampleBars(), []string{FormatParquet, FormatCSV})
	w.Write(ctx, "A", sampleBars(), []string{FormatParquet})
	_, _ = out.WriteListing(ctx, nil, false)
	require.NoError(t, out.WriteAtomic(ctx, ".lastrun.success.json", "application/json", func(w io.Writer) error {
		_, err := io.WriteString(w, "[]")
		return err
	}))

	ids, err := out.Instruments(ctx, "parquet")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	ids, err = out.Instruments(ctx, "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids)
}

func TestOpenOutput_FileBacked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	ctx := context.Background()

	out, err := OpenOutput(ctx, dir)
	require.NoError(t, err)
	defer out.Close()

	w := NewMultiFormatWriter(out, testLogger())
	results := w.Write(ctx, "000001.SZ", sampleBars(), []string{FormatParquet, FormatCSV})
	for _, r := range results {
		require.True(t, r.OK(), r.Error)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"000001.SZ.parquet", "000001.SZ.csv"}, names)
}

func TestOpenOutput_Unwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenOutput(context.Background(), filepath.Join(file, "data"))
	require.Error(t, err)
	var se *StorageError
	assert.ErrorAs(t, err, &se)
}

func TestListing_RoundTrip(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())
	w.Write(ctx, "000001.SZ", sampleBars(), []string{FormatParquet})

	rec, err := out.CoverageOf(ctx, "000001.SZ", FormatParquet)
	require.NoError(t, err)
	assert.Equal(t, models.CoverageRecord{
		Code: "000001.SZ", Start: day("2020-01-02"), End: day("2020-01-06"), Count: 3, File: "000001.SZ.parquet",
	}, rec)

	csvErr, xlsxErr := out.WriteListing(ctx, []models.CoverageRecord{rec}, true)
	require.NoError(t, csvErr)
	require.NoError(t, xlsxErr)

	got, err := out.ReadListing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CoverageRecord{rec}, got)

	ok, err := out.Exists(ctx, "stock_list.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoverageOf_EmptyArtifact(t *testing.T) {
	out := newMemOutput(t)
	ctx := context.Background()
	w := NewMultiFormatWriter(out, testLogger())
	w.Write(ctx, "E", nil, []string{FormatCSV})

	_, err := out.CoverageOf(ctx, "E", FormatCSV)
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	cat, err := OpenCatalog(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.HealthCheck(ctx))

	a := models.CoverageRecord{Code: "A", Start: day("2020-01-02"), End: day("2020-12-31"), Count: 243, File: "A.parquet"}
	b := models.CoverageRecord{Code: "B", Start: day("2021-01-04"), End: day("2021-06-30"), Count: 118, File: "B.parquet"}
	require.NoError(t, cat.Upsert(ctx, "run-1", []models.CoverageRecord{b, a}))

	list, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CoverageRecord{a, b}, list)

	a.End = day("2021-12-31")
	a.Count = 486
	require.NoError(t, cat.Upsert(ctx, "run-2", []models.CoverageRecord{a}))

	got, err := cat.Get(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a, *got)

	missing, err := cat.Get(ctx, "Z")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, cat.Upsert(ctx, "run-3", nil))
	require.NoError(t, cat.Close())
	assert.Error(t, cat.HealthCheck(ctx))
}
