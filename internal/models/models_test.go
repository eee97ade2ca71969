package models

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)

func validBar() Bar {
	return Bar{Date: testDay, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1000, Amount: 10500}
}

func TestBar_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(b *Bar)
		wantField string
	}{
		{name: "valid", mutate: func(b *Bar) {}},
		{name: "zero_date", mutate: func(b *Bar) { b.Date = time.Time{} }, wantField: "date"},
		{name: "missing_open", mutate: func(b *Bar) { b.Open = math.NaN() }, wantField: "open"},
		{name: "negative_amount", mutate: func(b *Bar) { b.Amount = -1 }, wantField: "amount"},
		{name: "zero_close", mutate: func(b *Bar) { b.Close = 0 }, wantField: "close"},
		{name: "zero_volume", mutate: func(b *Bar) { b.Volume = 0 }, wantField: "volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBar()
			tt.mutate(&b)
			err := b.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestBar_IsComplete(t *testing.T) {
	b := validBar()
	assert.True(t, b.IsComplete())

	empty := NewEmptyBar(testDay)
	assert.False(t, empty.IsComplete())

	for _, f := range BarFields {
		empty.Set(f, 1)
	}
	assert.True(t, empty.IsComplete())
}

func TestBar_CloseDecimal(t *testing.T) {
	b := validBar()
	assert.True(t, b.CloseDecimal().Equal(decimal.RequireFromString("10.5")))
}

func TestColumnNames(t *testing.T) {
	assert.Equal(t, []string{"date", "open", "high", "low", "close", "volume", "amount"}, ColumnNames())
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"20200102", "2020-01-02", " 2020-01-02 "} {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, testDay, d)
	}
	_, err := ParseDate("2020/01/02")
	assert.Error(t, err)
}

func TestDateRange(t *testing.T) {
	r, err := NewDateRange(testDay, testDay.AddDate(0, 0, 9))
	require.NoError(t, err)
	assert.Equal(t, 10, r.Days())
	assert.True(t, r.Contains(testDay.Add(13*time.Hour)))
	assert.False(t, r.Contains(testDay.AddDate(0, 0, 10)))
	assert.Equal(t, "2020-01-02~2020-01-11", r.String())

	_, err = NewDateRange(testDay, testDay.AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestManifest_Tally(t *testing.T) {
	m := Manifest{Entries: []ManifestEntry{
		{Code: "a", Exists: true},
		{Code: "b", Exists: false, Error: "missing"},
		{Code: "c", Exists: true, Error: "zero rows"},
	}}
	m.Tally()
	assert.Equal(t, 3, m.Total)
	assert.Equal(t, 1, m.Complete)
	assert.Equal(t, 2, m.Errored)
}
