package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

const xlsxSheet = "Sheet1"

// XLSXCodec is the best-effort spreadsheet format.
type XLSXCodec struct{}

func (XLSXCodec) Format() string { return FormatXLSX }
func (XLSXCodec) Extension() string { return "xlsx" }
func (XLSXCodec) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSXCodec) Encode(w io.Writer, bars []models.Bar) error {
	header := models.ColumnNames()
	rows := make([][]any, len(bars))
	for i, b := range bars {
		rows[i] = []any{b.Date.Format(models.DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount}
	}
	return writeSheet(w, header, rows)
}

func (XLSXCodec) Decode(data []byte) ([]string, []models.Bar, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("xlsx open: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, fmt.Errorf("%w: workbook has no sheets", ErrSchema)
	}
	records, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("xlsx read: %w", err)
	}
	return decodeTable(records)
}

// writeSheet streams a header and rows into a single-sheet workbook.
func writeSheet(w io.Writer, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("xlsx stream: %w", err)
	}
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx flush: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
