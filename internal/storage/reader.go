package storage

import (
	"context"
	"errors"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// Series is a decoded artifact.
type Series struct {
	Instrument string
	Format     string
	Key        string
	Fields     []string
	Bars       []models.Bar
	Size       int64
}

// Coverage returns the first and last dates, or false for an empty series.
func (s *Series) Coverage() (models.DateRange, bool) {
	if len(s.Bars) == 0 {
		return models.DateRange{}, false
	}
	return models.DateRange{
		Start: models.Day(s.Bars[0].Date),
		End:   models.Day(s.Bars[len(s.Bars)-1].Date),
	}, true
}

// ReadSeries loads and decodes the artifact for instrument in format.
// A missing artifact wraps ErrNotFound; an undecodable one wraps the codec error.
// When decoding fails after the header was read, the returned Series still
// carries Key, Size and Fields.
func (o *Output) ReadSeries(ctx context.Context, instrument, format string) (*Series, error) {
	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	s := &Series{
		Instrument: instrument,
		Format:     codec.Format(),
		Key:        ArtifactKey(instrument, codec.Extension()),
	}

	data, err := o.ReadAll(ctx, s.Key)
	if err != nil {
		return s, err
	}
	s.Size = int64(len(data))

	fields, bars, err := codec.Decode(data)
	s.Fields = fields
	if err != nil {
		return s, NewStorageError("decode", s.Key, err)
	}
	s.Bars = bars
	return s, nil
}

// CoverageOf re-derives the coverage record of an instrument by reading its
// artifact back. An empty artifact is an error.
func (o *Output) CoverageOf(ctx context.Context, instrument, format string) (models.CoverageRecord, error) {
	s, err := o.ReadSeries(ctx, instrument, format)
	if err != nil {
		return models.CoverageRecord{}, err
	}
	r, ok := s.Coverage()
	if !ok {
		return models.CoverageRecord{}, NewStorageError("coverage", s.Key, errors.New("artifact has no rows"))
	}
	return models.CoverageRecord{
		Code:  instrument,
		Start: r.Start,
		End:   r.End,
		Count: len(s.Bars),
		File:  s.Key,
	}, nil
}

// IsNotFound reports whether err is a missing-artifact error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
