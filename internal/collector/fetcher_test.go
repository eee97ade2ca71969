package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-archiver/internal/errors"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/source/sourcetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(attempts int) config.RetryPolicyConfig {
	return config.RetryPolicyConfig{
		MaxAttempts:     attempts,
		Delay:           "1ms",
		MaxDelay:        "5ms",
		BackoffStrategy: "fixed",
	}
}

func bar(date string, close, volume float64) models.Bar {
	return models.Bar{
		Date:   day(date),
		Open:   close - 0.1,
		High:   close + 0.2,
		Low:    close - 0.2,
		Close:  close,
		Volume: volume,
		Amount: close * volume,
	}
}

func TestSegmentFetcher_RetriesUntilSuccess(t *testing.T) {
	src := sourcetest.NewMemory()
	src.SetBars("000001", []models.Bar{bar("2020-01-02", 10, 100), bar("2020-01-03", 11, 200)})
	src.FailWith(func(_ string, _ models.DateRange, call int) error {
		if call <= 2 {
			return sourcetest.ErrInjected
		}
		return nil
	})

	stats := NewRunStats()
	f := NewSegmentFetcher(src, fastRetry(3), stats, testLogger())
	seg := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}

	res := f.Fetch(context.Background(), FetchSpec{Instrument: "000001", Period: "1d"}, seg)

	assert.Equal(t, models.FetchRows, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, src.Calls("000001"))
	assert.Len(t, res.Bars, 2)
	assert.NoError(t, res.Err)

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.Attempts)
	assert.Equal(t, int64(2), snap.AttemptErrors)
	assert.Equal(t, int64(1), snap.SegmentsRows)
}

func TestSegmentFetcher_ExhaustsRetries(t *testing.T) {
	src := sourcetest.NewMemory()
	src.SetBars("000001", []models.Bar{bar("2020-01-02", 10, 100)})
	src.FailWith(func(string, models.DateRange, int) error { return sourcetest.ErrInjected })

	f := NewSegmentFetcher(src, fastRetry(4), nil, testLogger())
	seg := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}

	res := f.Fetch(context.Background(), FetchSpec{Instrument: "000001"}, seg)

	assert.Equal(t, models.FetchError, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, src.Calls("000001"))
	assert.Empty(t, res.Bars)
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, apperrors.ErrSegmentFetch))
	assert.ErrorIs(t, res.Err, sourcetest.ErrInjected)
}

func TestSegmentFetcher_EmptyIsNotRetried(t *testing.T) {
	src := sourcetest.NewMemory()
	src.SetBars("000001", []models.Bar{bar("2019-06-03", 10, 100)})

	f := NewSegmentFetcher(src, fastRetry(3), nil, testLogger())
	seg := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}

	res := f.Fetch(context.Background(), FetchSpec{Instrument: "000001"}, seg)

	assert.Equal(t, models.FetchEmpty, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, src.Calls("000001"))
}

func TestSegmentFetcher_PrimeFailureIsIgnored(t *testing.T) {
	src := sourcetest.NewMemory()
	src.SetBars("000001", []models.Bar{bar("2020-01-02", 10, 100)})
	src.FailPrime(errors.New("cache unavailable"))

	f := NewSegmentFetcher(src, fastRetry(3), nil, testLogger())
	seg := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}

	res := f.Fetch(context.Background(), FetchSpec{Instrument: "000001"}, seg)

	assert.Equal(t, models.FetchRows, res.Status)
	assert.Equal(t, []string{"000001 2020-01-01~2020-12-31"}, src.Primed())
}

func TestSegmentFetcher_CancelledContext(t *testing.T) {
	src := sourcetest.NewMemory()
	src.SetBars("000001", []models.Bar{bar("2020-01-02", 10, 100)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewSegmentFetcher(src, fastRetry(3), nil, testLogger())
	seg := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}
	res := f.Fetch(ctx, FetchSpec{Instrument: "000001"}, seg)

	assert.Equal(t, models.FetchError, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, src.Calls("000001"))
}

func TestAssemble(t *testing.T) {
	seg1 := models.DateRange{Start: day("2014-01-01"), End: day("2017-01-01")}
	seg2 := models.DateRange{Start: day("2017-01-02"), End: day("2020-01-02")}
	seg3 := models.DateRange{Start: day("2020-01-03"), End: day("2020-12-31")}

	results := []models.SegmentResult{
		{Segment: seg1, Status: models.FetchError, Err: sourcetest.ErrInjected},
		{Segment: seg2, Status: models.FetchRows, Bars: []models.Bar{bar("2019-12-31", 10, 1), bar("2020-01-02", 11, 1)}},
		{Segment: seg3, Status: models.FetchRows, Bars: []models.Bar{bar("2020-01-03", 12, 1)}},
	}

	a := Assemble(results)
	require.Len(t, a.Bars, 3)
	assert.Equal(t, day("2019-12-31"), a.Bars[0].Date)
	assert.Equal(t, day("2020-01-03"), a.Bars[2].Date)
	assert.Equal(t, 2, a.Rows)
	assert.Equal(t, []models.DateRange{seg1}, a.Missing)
	assert.False(t, a.NoData())
	assert.True(t, a.Partial())

	none := Assemble([]models.SegmentResult{
		{Segment: seg1, Status: models.FetchEmpty},
		{Segment: seg2, Status: models.FetchError},
	})
	assert.True(t, none.NoData())
	assert.False(t, none.Partial())
	assert.Equal(t, 1, none.Empty)
}
