package backtest

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

func series(closes ...float64) []models.Bar {
	start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000, Amount: c * 1000,
		}
	}
	return bars
}

func testConfig() Config {
	return Config{ShortWindow: 2, LongWindow: 3, InitialCash: decimal.NewFromInt(10000), LotSize: 100}
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4}, 2)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got[1:])
}

func TestSignals(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 12, 14, 14, 10, 8, 8}
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, -1, -1, -1}, Signals(closes, 2, 3))
}

func TestRun_CrossoverWithNextDayExecution(t *testing.T) {
	bars := series(10, 10, 10, 10, 12, 14, 14, 10, 8, 8)

	res, err := Run("510300", bars, testConfig())
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]

	assert.Equal(t, Buy, buy.Action)
	assert.Equal(t, bars[5].Date, buy.Date, "signal from day 4 executes on day 5")
	assert.Equal(t, int64(700), buy.Shares)
	assert.True(t, buy.Value.Equal(decimal.NewFromInt(9800)))

	assert.Equal(t, Sell, sell.Action)
	assert.Equal(t, bars[8].Date, sell.Date)
	assert.Equal(t, int64(700), sell.Shares)

	assert.Zero(t, res.Position)
	assert.True(t, res.Cash.Equal(decimal.NewFromInt(5800)), res.Cash.String())
	assert.True(t, res.FinalValue.Equal(decimal.NewFromInt(5800)))
	assert.True(t, res.ReturnPct().Equal(decimal.NewFromInt(-42)), res.ReturnPct().String())
	assert.Equal(t, 7, res.Bars)
	assert.Equal(t, bars[3].Date, res.Start)
}

func TestRun_OpenPositionIsMarkedToMarket(t *testing.T) {
	bars := series(10, 10, 10, 10, 12, 14, 15, 16)

	res, err := Run("510300", bars, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(700), res.Position)
	// 200 cash left plus 700 shares at 16.
	assert.True(t, res.FinalValue.Equal(decimal.NewFromInt(11400)), res.FinalValue.String())
}

func TestRun_SellWithoutPositionIsIgnored(t *testing.T) {
	bars := series(20, 20, 20, 20, 18, 16, 14, 12)

	res, err := Run("510300", bars, testConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.True(t, res.FinalValue.Equal(res.InitialCash))
}

func TestRun_InsufficientData(t *testing.T) {
	_, err := Run("510300", series(1, 2, 3), testConfig())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRun_RejectsUntradableSeries(t *testing.T) {
	unsorted := series(10, 10, 10, 12, 14)
	unsorted[3], unsorted[4] = unsorted[4], unsorted[3]

	tests := []struct {
		name string
		bars []models.Bar
	}{
		{"zero close at buy", series(1, 1, 1, 2, 0)},
		{"unsorted dates", unsorted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				res *Result
				err error
			)
			require.NotPanics(t, func() { res, err = Run("X", tt.bars, testConfig()) })
			assert.ErrorIs(t, err, ErrInvalidSeries)
			assert.Nil(t, res)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short not below long", func(c *Config) { c.ShortWindow = 3 }},
		{"zero window", func(c *Config) { c.ShortWindow = 0 }},
		{"no cash", func(c *Config) { c.InitialCash = decimal.Zero }},
		{"no lot", func(c *Config) { c.LotSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	def := ConfigFrom(config.DefaultConfig().Backtest)
	assert.NoError(t, def.Validate())
	assert.Equal(t, 5, def.ShortWindow)
	assert.Equal(t, 20, def.LongWindow)
}

func TestPrintSummary(t *testing.T) {
	res, err := Run("510300", series(10, 10, 10, 10, 12, 14, 14, 10, 8, 8), testConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.PrintSummary(&buf, 1))
	out := buf.String()
	assert.Contains(t, out, "final value:   5800.00")
	assert.Contains(t, out, "total return:  -42.00%")
	assert.Contains(t, out, "trades:        2")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "... 1 more")
	assert.NotContains(t, out, "SELL")
}
