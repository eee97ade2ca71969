// Package backtest runs a moving-average crossover strategy over an archived
// daily series. It exists to demonstrate that artifacts are directly usable
// downstream and is deliberately minimal: one instrument, long-only, no fees.
package backtest

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/validator"
)

// ErrInsufficientData is returned when the series is too short to trade after warm-up.
var ErrInsufficientData = errors.New("not enough bars for the long moving average")

// ErrInvalidSeries is returned when bars are not a cleaned series.
var ErrInvalidSeries = errors.New("series is not tradable")

// Config parameterizes a run.
type Config struct {
	ShortWindow int
	LongWindow  int
	InitialCash decimal.Decimal
	LotSize     int64
}

// ConfigFrom converts application configuration.
func ConfigFrom(cfg config.BacktestConfig) Config {
	return Config{
		ShortWindow: cfg.ShortWindow,
		LongWindow:  cfg.LongWindow,
		InitialCash: decimal.NewFromFloat(cfg.InitialCash),
		LotSize:     int64(cfg.LotSize),
	}
}

// Validate checks window and cash settings.
func (c Config) Validate() error {
	if c.ShortWindow < 1 || c.LongWindow < 1 {
		return fmt.Errorf("moving average windows must be positive (short=%d, long=%d)", c.ShortWindow, c.LongWindow)
	}
	if c.ShortWindow >= c.LongWindow {
		return fmt.Errorf("short window %d must be less than long window %d", c.ShortWindow, c.LongWindow)
	}
	if !c.InitialCash.IsPositive() {
		return fmt.Errorf("initial cash must be positive, got %s", c.InitialCash)
	}
	if c.LotSize < 1 {
		return fmt.Errorf("lot size must be positive, got %d", c.LotSize)
	}
	return nil
}

// Action is a trade direction.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Trade is one executed order.
type Trade struct {
	Date   time.Time
	Action Action
	Price  decimal.Decimal
	Shares int64
	Value  decimal.Decimal
}

// Result summarizes a run.
type Result struct {
	Instrument  string
	Start       time.Time
	End         time.Time
	Bars        int
	InitialCash decimal.Decimal
	Cash        decimal.Decimal
	Position    int64
	FinalPrice  decimal.Decimal
	FinalValue  decimal.Decimal
	Trades      []Trade
}

// ReturnPct is the total return in percent.
func (r *Result) ReturnPct() decimal.Decimal {
	if r.InitialCash.IsZero() {
		return decimal.Zero
	}
	return r.FinalValue.Sub(r.InitialCash).Div(r.InitialCash).Mul(decimal.NewFromInt(100))
}

// MovingAverage returns the trailing simple average of values over window.
// Positions before the first full window are NaN.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// Signals returns +1 where the short average is above the long one, -1 where it
// is below, and 0 where they are equal or not yet defined.
func Signals(closes []float64, short, long int) []int {
	s := MovingAverage(closes, short)
	l := MovingAverage(closes, long)
	out := make([]int, len(closes))
	for i := range closes {
		switch {
		case math.IsNaN(s[i]) || math.IsNaN(l[i]):
		case s[i] > l[i]:
			out[i] = 1
		case s[i] < l[i]:
			out[i] = -1
		}
	}
	return out
}

// Run trades bars, which must form a cleaned series: ascending unique dates and
// a positive close on every row.
//
// The first LongWindow rows are warm-up and never traded. From then on the
// previous row's signal is executed at the current close: a buy goes all-in in
// whole lots, a sell liquidates the position. A signal is acted on only when it
// differs from the last executed one.
func Run(instrument string, bars []models.Bar, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) <= cfg.LongWindow {
		return nil, fmt.Errorf("%w: have %d, need more than %d", ErrInsufficientData, len(bars), cfg.LongWindow)
	}
	if err := validator.CheckSeries(bars); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSeries, instrument, err)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	signals := Signals(closes, cfg.ShortWindow, cfg.LongWindow)

	bars = bars[cfg.LongWindow:]
	signals = signals[cfg.LongWindow:]

	lot := decimal.NewFromInt(cfg.LotSize)
	res := &Result{
		Instrument:  instrument,
		Start:       bars[0].Date,
		End:         bars[len(bars)-1].Date,
		Bars:        len(bars),
		InitialCash: cfg.InitialCash,
		Cash:        cfg.InitialCash,
	}

	last := 0
	for i := 1; i < len(bars); i++ {
		price := bars[i].CloseDecimal()
		switch signals[i-1] {
		case 1:
			if last == 1 {
				continue
			}
			lots := res.Cash.Div(price).Div(lot).IntPart()
			shares := lots * cfg.LotSize
			if shares <= 0 {
				continue
			}
			cost := price.Mul(decimal.NewFromInt(shares))
			res.Cash = res.Cash.Sub(cost)
			res.Position += shares
			res.Trades = append(res.Trades, Trade{Date: bars[i].Date, Action: Buy, Price: price, Shares: shares, Value: cost})
			last = 1
		case -1:
			if last == -1 || res.Position == 0 {
				continue
			}
			proceeds := price.Mul(decimal.NewFromInt(res.Position))
			res.Cash = res.Cash.Add(proceeds)
			res.Trades = append(res.Trades, Trade{Date: bars[i].Date, Action: Sell, Price: price, Shares: res.Position, Value: proceeds})
			res.Position = 0
			last = -1
		}
	}

	res.FinalPrice = bars[len(bars)-1].CloseDecimal()
	res.FinalValue = res.Cash.Add(res.FinalPrice.Mul(decimal.NewFromInt(res.Position)))
	return res, nil
}

// PrintSummary writes the result and up to maxTrades trades to w.
func (r *Result) PrintSummary(w io.Writer, maxTrades int) error {
	lines := []string{
		fmt.Sprintf("Backtest %s  %s ~ %s  (%d bars)", r.Instrument,
			r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout), r.Bars),
		fmt.Sprintf("  initial cash:  %s", r.InitialCash.StringFixed(2)),
		fmt.Sprintf("  final value:   %s", r.FinalValue.StringFixed(2)),
		fmt.Sprintf("  total return:  %s%%", r.ReturnPct().StringFixed(2)),
		fmt.Sprintf("  trades:        %d", len(r.Trades)),
	}
	for i, t := range r.Trades {
		if i == maxTrades {
			lines = append(lines, fmt.Sprintf("  ... %d more", len(r.Trades)-maxTrades))
			break
		}
		lines = append(lines, fmt.Sprintf("  %s  %-4s  %10s x %d",
			t.Date.Format(models.DateLayout), t.Action, t.Price.StringFixed(2), t.Shares))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
