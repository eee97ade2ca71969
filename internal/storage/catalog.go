package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

const coverageTable = "coverage"

// Catalog keeps the latest coverage of every archived instrument in DuckDB.
// It is rebuilt from artifacts on every run and is never the source of truth.
type Catalog struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// OpenCatalog opens (or creates) the catalog database and ensures its schema.
// The dbPath can be ":memory:" for an in-memory database.
func OpenCatalog(ctx context.Context, dbPath string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", dbPath, fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer per database file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	c := &Catalog{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "catalog"),
	}
	if err := c.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Initialize creates the coverage table. It is idempotent.
func (c *Catalog) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS coverage (
		code VARCHAR PRIMARY KEY,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		row_count BIGINT NOT NULL,
		file VARCHAR NOT NULL,
		run_id VARCHAR,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return NewStorageError("initialize", coverageTable, err)
	}
	c.logger.Debug("catalog initialized", "db_path", c.dbPath)
	return nil
}

// Upsert replaces the coverage rows for the given records in one transaction.
func (c *Catalog) Upsert(ctx context.Context, runID string, records []models.CoverageRecord) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("upsert", coverageTable, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO coverage (code, start_date, end_date, row_count, file, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("upsert", coverageTable, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Start, r.End, int64(r.Count), r.File, runID, now); err != nil {
			return NewStorageError("upsert", coverageTable, fmt.Errorf("instrument %s: %w", r.Code, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("upsert", coverageTable, err)
	}

	c.logger.Debug("catalog updated", "records", len(records), "run_id", runID)
	return nil
}

// List returns every coverage record ordered by code.
func (c *Catalog) List(ctx context.Context) ([]models.CoverageRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		"SELECT code, start_date, end_date, row_count, file FROM coverage ORDER BY code")
	if err != nil {
		return nil, NewStorageError("query", coverageTable, err)
	}
	defer rows.Close()

	var out []models.CoverageRecord
	for rows.Next() {
		r, err := scanCoverage(rows)
		if err != nil {
			return nil, NewStorageError("query", coverageTable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", coverageTable, err)
	}
	return out, nil
}

// Get returns the record for code, or nil when the catalog has none.
func (c *Catalog) Get(ctx context.Context, code string) (*models.CoverageRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRowContext(ctx,
		"SELECT code, start_date, end_date, row_count, file FROM coverage WHERE code = ?", code)
	r, err := scanCoverage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("query", coverageTable, err)
	}
	return &r, nil
}

// HealthCheck performs a lightweight query to verify the database is usable.
func (c *Catalog) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		return NewStorageError("health_check", "", errors.New("database connection is closed"))
	}
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", err)
	}
	return nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return NewStorageError("close", c.dbPath, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoverage(s rowScanner) (models.CoverageRecord, error) {
	var r models.CoverageRecord
	var count int64
	if err := s.Scan(&r.Code, &r.Start, &r.End, &count, &r.File); err != nil {
		return models.CoverageRecord{}, err
	}
	r.Count = int(count)
	r.Start = models.Day(r.Start)
	r.End = models.Day(r.End)
	return r, nil
}
