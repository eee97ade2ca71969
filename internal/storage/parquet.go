package storage

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// parquetBar is the on-disk row layout. Date is days since the Unix epoch.
type parquetBar struct {
	Date   int32   `parquet:"date,date"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
	Amount float64 `parquet:"amount"`
}

const secondsPerDay = 24 * 60 * 60

func toEpochDay(t time.Time) int32 {
	return int32(models.Day(t).Unix() / secondsPerDay)
}

func fromEpochDay(d int32) time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// ParquetCodec is the primary columnar format, Snappy-compressed.
type ParquetCodec struct{}

func (ParquetCodec) Format() string      { return FormatParquet }
func (ParquetCodec) Extension() string   { return "parquet" }
func (ParquetCodec) ContentType() string { return "application/vnd.apache.parquet" }

func (ParquetCodec) Encode(w io.Writer, bars []models.Bar) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			Date:   toEpochDay(b.Date),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
			Amount: b.Amount,
		}
	}

	pw := parquet.NewGenericWriter[parquetBar](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return fmt.Errorf("parquet write: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

func (ParquetCodec) Decode(data []byte) ([]string, []models.Bar, error) {
	r := bytes.NewReader(data)
	size := int64(len(data))

	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("parquet open: %w", err)
	}
	var fields []string
	for _, f := range file.Schema().Fields() {
		fields = append(fields, f.Name())
	}
	if err := checkColumns(fields); err != nil {
		return fields, nil, err
	}

	rows, err := parquet.Read[parquetBar](r, size)
	if err != nil {
		return fields, nil, fmt.Errorf("parquet read: %w", err)
	}
	bars := make([]models.Bar, len(rows))
	for i, row := range rows {
		bars[i] = models.Bar{
			Date:   fromEpochDay(row.Date),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
			Amount: row.Amount,
		}
	}
	return fields, bars, nil
}
