package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

const (
	// ListingName is the stem of the successful-instrument listing.
	ListingName = "stock_list"
	// ManifestName is the stem of the manifest file.
	ManifestName = "manifest"
)

var listingColumns = []string{"code", "start", "end", "count", "file"}

// WriteListing writes stock_list.csv and, when withXLSX is set, stock_list.xlsx.
// The spreadsheet copy is best-effort; its error is returned separately.
func (o *Output) WriteListing(ctx context.Context, records []models.CoverageRecord, withXLSX bool) (csvErr, xlsxErr error) {
	csvErr = o.WriteAtomic(ctx, ListingName+".csv", CSVCodec{}.ContentType(), func(w io.Writer) error {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return err
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(listingColumns); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write(listingRecord(r)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})

	if withXLSX {
		xlsxErr = o.WriteAtomic(ctx, ListingName+".xlsx", XLSXCodec{}.ContentType(), func(w io.Writer) error {
			rows := make([][]any, len(records))
			for i, r := range records {
				rows[i] = []any{r.Code, r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout), r.Count, r.File}
			}
			return writeSheet(w, listingColumns, rows)
		})
	}
	return csvErr, xlsxErr
}

// ReadListing loads stock_list.csv.
func (o *Output) ReadListing(ctx context.Context) ([]models.CoverageRecord, error) {
	key := ListingName + ".csv"
	data, err := o.ReadAll(ctx, key)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(stripBOM(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, NewStorageError("decode", key, err)
	}
	if len(records) == 0 {
		return nil, NewStorageError("decode", key, fmt.Errorf("%w: no header row", ErrSchema))
	}

	out := make([]models.CoverageRecord, 0, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) != len(listingColumns) {
			return nil, NewStorageError("decode", key, fmt.Errorf("line %d: want %d columns, got %d", n+2, len(listingColumns), len(rec)))
		}
		start, err := models.ParseDate(rec[1])
		if err != nil {
			return nil, NewStorageError("decode", key, err)
		}
		end, err := models.ParseDate(rec[2])
		if err != nil {
			return nil, NewStorageError("decode", key, err)
		}
		count, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, NewStorageError("decode", key, err)
		}
		out = append(out, models.CoverageRecord{Code: rec[0], Start: start, End: end, Count: count, File: rec[4]})
	}
	return out, nil
}

func listingRecord(r models.CoverageRecord) []string {
	return []string{
		r.Code,
		r.Start.Format(models.DateLayout),
		r.End.Format(models.DateLayout),
		strconv.Itoa(r.Count),
		r.File,
	}
}
