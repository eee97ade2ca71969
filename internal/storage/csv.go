package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// utf8BOM prefixes text artifacts so spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// CSVCodec is the text tabular format: UTF-8 with BOM, header
// date,open,high,low,close,volume,amount and dates as YYYY-MM-DD.
type CSVCodec struct{}

func (CSVCodec) Format() string      { return FormatCSV }
func (CSVCodec) Extension() string   { return "csv" }
func (CSVCodec) ContentType() string { return "text/csv; charset=utf-8" }

func (CSVCodec) Encode(w io.Writer, bars []models.Bar) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(models.ColumnNames()); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write(barRecord(b)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVCodec) Decode(data []byte) ([]string, []models.Bar, error) {
	r := csv.NewReader(stripBOM(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csv read: %w", err)
	}
	return decodeTable(records)
}

func barRecord(b models.Bar) []string {
	return []string{
		b.Date.Format(models.DateLayout),
		floatStr(b.Open),
		floatStr(b.High),
		floatStr(b.Low),
		floatStr(b.Close),
		floatStr(b.Volume),
		floatStr(b.Amount),
	}
}

func stripBOM(data []byte) io.Reader {
	return bytes.NewReader(bytes.TrimPrefix(data, []byte(utf8BOM)))
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// decodeTable parses a header row plus data rows. Columns are matched by name,
// so column order in the artifact does not matter.
func decodeTable(records [][]string) ([]string, []models.Bar, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: no header row", ErrSchema)
	}
	header := make([]string, len(records[0]))
	index := make(map[string]int, len(header))
	for i, h := range records[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		header[i] = h
		index[h] = i
	}
	if err := checkColumns(header); err != nil {
		return header, nil, err
	}

	bars := make([]models.Bar, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		cell := func(name string) (string, error) {
			i := index[name]
			if i >= len(rec) {
				return "", fmt.Errorf("line %d: missing %s", line, name)
			}
			return strings.TrimSpace(rec[i]), nil
		}

		ds, err := cell("date")
		if err != nil {
			return header, nil, err
		}
		d, err := models.ParseDate(ds)
		if err != nil {
			return header, nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := models.NewEmptyBar(d)
		for _, f := range models.BarFields {
			s, err := cell(string(f))
			if err != nil {
				return header, nil, err
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return header, nil, fmt.Errorf("line %d: %s: %w", line, f, err)
			}
			b.Set(f, v)
		}
		bars = append(bars, b)
	}
	return header, bars, nil
}
