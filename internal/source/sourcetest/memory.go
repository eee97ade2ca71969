// Package sourcetest provides an in-process upstream for exercising the
// acquisition pipeline without a gateway.
package sourcetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
	"github.com/johnayoung/go-ohlcv-archiver/internal/source"
)

var _ source.Source = (*Memory)(nil)

// ErrInjected is returned by Memory for scripted failures.
var ErrInjected = errors.New("injected upstream failure")

// FailFunc decides whether a fetch for an instrument and range should fail.
// call is the 1-based count of fetches made so far for that instrument.
type FailFunc func(instrument string, r models.DateRange, call int) error

// Memory is an in-process Source backed by fixed bars. It records every call.
type Memory struct {
	mu        sync.Mutex
	bars      map[string][]models.Bar
	primed    []string
	calls     map[string]int
	fail      FailFunc
	primeFail error
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		bars:  make(map[string][]models.Bar),
		calls: make(map[string]int),
	}
}

// SetBars replaces the bars served for an instrument.
func (m *Memory) SetBars(instrument string, bars []models.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.Bar, len(bars))
	copy(cp, bars)
	m.bars[instrument] = cp
}

// FailWith installs a failure script for FetchFields.
func (m *Memory) FailWith(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// FailPrime makes every PrimeCache call return err.
func (m *Memory) FailPrime(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primeFail = err
}

// Calls returns the number of FetchFields calls for an instrument.
func (m *Memory) Calls(instrument string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[instrument]
}

// Primed returns the "instrument range" keys passed to PrimeCache, in order.
func (m *Memory) Primed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.primed))
	copy(out, m.primed)
	return out
}

// PrimeCache implements source.Source.
func (m *Memory) PrimeCache(ctx context.Context, instrument, period string, r models.DateRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = append(m.primed, fmt.Sprintf("%s %s", instrument, r))
	return m.primeFail
}

// FetchFields implements source.Source.
func (m *Memory) FetchFields(ctx context.Context, fields []models.Field, req source.Request) (source.FieldData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls[req.Instrument]++
	call := m.calls[req.Instrument]
	fail := m.fail
	bars := m.bars[req.Instrument]
	m.mu.Unlock()

	if fail != nil {
		if err := fail(req.Instrument, req.Range, call); err != nil {
			return nil, err
		}
	}

	out := source.FieldData{}
	for _, b := range bars {
		if !req.Range.Contains(b.Date) {
			continue
		}
		for _, f := range fields {
			block := out[f]
			block.Dates = append(block.Dates, b.Date)
			block.Values = append(block.Values, b.Value(f))
			out[f] = block
		}
	}
	return out, nil
}
