package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labsight/deidgate/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite. It serves
// single-node deployments and the operator CLI.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite record store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	// One writer at a time keeps INSERT OR IGNORE free of SQLITE_BUSY races.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{}
	var (
		payload, response string
		emailedAt         sql.NullTime
	)

	err := s.Scan(&rec.ID, &rec.OrderRef, &payload, &response, &rec.CreatedAt, &emailedAt, &rec.ReportKey)
	if err != nil {
		return nil, err
	}

	rec.SafePayload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(response), &rec.Response); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}
	if emailedAt.Valid {
		t := emailedAt.Time
		rec.EmailedAt = &t
	}
	return rec, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_records (
		id TEXT PRIMARY KEY,
		order_ref TEXT NOT NULL UNIQUE,
		safe_payload TEXT NOT NULL,
		llm_response TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		emailed_at DATETIME,
		report_key TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_records_created_at ON analysis_records(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const sqliteColumns = `id, order_ref, safe_payload, llm_response, created_at, emailed_at, report_key`

// Create inserts rec unless the order reference already has a record.
func (s *SQLiteStore) Create(ctx context.Context, rec *domain.AnalysisRecord) (*domain.AnalysisRecord, bool, error) {
	response, err := prepare(rec)
	if err != nil {
		return nil, false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO analysis_records (id, order_ref, safe_payload, llm_response, created_at, report_key)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.OrderRef,
		string(rec.SafePayload),
		string(response),
		rec.CreatedAt,
		rec.ReportKey,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.GetByOrderRef(ctx, rec.OrderRef)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing record: %w", err)
	}
	return existing, false, nil
}

// GetByOrderRef retrieves the record for an order.
func (s *SQLiteStore) GetByOrderRef(ctx context.Context, orderRef string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM analysis_records WHERE order_ref = ?`, orderRef)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis record for order %s: %w", orderRef, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// MarkEmailed sets emailed_at if it is not set yet.
func (s *SQLiteStore) MarkEmailed(ctx context.Context, orderRef string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_records SET emailed_at = COALESCE(emailed_at, ?) WHERE order_ref = ?`,
		at.UTC(), orderRef)
	if err != nil {
		return fmt.Errorf("failed to mark emailed: %w", err)
	}
	return requireRow(result, orderRef)
}

// SetReportKey records the object key of the rendered report.
func (s *SQLiteStore) SetReportKey(ctx context.Context, orderRef, key string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_records SET report_key = ? WHERE order_ref = ?`, key, orderRef)
	if err != nil {
		return fmt.Errorf("failed to set report key: %w", err)
	}
	return requireRow(result, orderRef)
}

// List returns records with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM analysis_records
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_records").Scan(&count)
	return count, err
}

// ExportJSON exports all records to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports records from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result, orderRef string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("analysis record for order %s: %w", orderRef, domain.ErrNotFound)
	}
	return nil
}
