package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/domain"
)

// PostgresStore implements the Store interface on a pgx pool. The schema is
// owned by the migrations directory.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL record store.
func NewPostgresStore(pool *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  logger,
	}
}

const postgresColumns = `id, order_ref, safe_payload, llm_response, created_at, emailed_at, report_key`

// Create inserts rec unless the order reference already has a record. The
// conflict check and the insert are one statement.
func (s *PostgresStore) Create(ctx context.Context, rec *domain.AnalysisRecord) (*domain.AnalysisRecord, bool, error) {
	response, err := prepare(rec)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO analysis_records (id, order_ref, safe_payload, llm_response, created_at, report_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_ref) DO NOTHING
		RETURNING id`

	var id string
	err = s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.OrderRef,
		[]byte(rec.SafePayload),
		response,
		rec.CreatedAt,
		rec.ReportKey,
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetByOrderRef(ctx, rec.OrderRef)
		if getErr != nil {
			return nil, false, fmt.Errorf("loading existing record: %w", getErr)
		}
		s.log.WithField("record_id", existing.ID).Info("Analysis record already exists")
		return existing, false, nil
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"record_id": rec.ID,
			"error":     err,
		}).Error("Failed to create analysis record")
		return nil, false, fmt.Errorf("creating analysis record: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"record_id": id,
		"format":    rec.Response.Format,
	}).Info("Analysis record created successfully")

	return rec, true, nil
}

// GetByOrderRef retrieves the record for an order.
func (s *PostgresStore) GetByOrderRef(ctx context.Context, orderRef string) (*domain.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM analysis_records WHERE order_ref = $1`, orderRef)

	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("analysis record for order %s: %w", orderRef, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting analysis record: %w", err)
	}
	return rec, nil
}

// MarkEmailed sets emailed_at if it is not set yet.
func (s *PostgresStore) MarkEmailed(ctx context.Context, orderRef string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_records SET emailed_at = COALESCE(emailed_at, $1) WHERE order_ref = $2`,
		at.UTC(), orderRef)
	if err != nil {
		return fmt.Errorf("marking record emailed: %w", err)
	}
	return requireTag(tag, orderRef)
}

// SetReportKey records the object key of the rendered report.
func (s *PostgresStore) SetReportKey(ctx context.Context, orderRef, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_records SET report_key = $1 WHERE order_ref = $2`, key, orderRef)
	if err != nil {
		return fmt.Errorf("setting report key: %w", err)
	}
	return requireTag(tag, orderRef)
}

// List returns records with pagination, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postgresColumns+`
		FROM analysis_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing analysis records: %w", err)
	}
	defer rows.Close()

	var result []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analysis_records").Scan(&count)
	return count, err
}

// ExportJSON exports all records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports records from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

func scanPgRecord(row pgx.Row) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{}
	var (
		payload, response []byte
		emailedAt         *time.Time
	)

	if err := row.Scan(&rec.ID, &rec.OrderRef, &payload, &response, &rec.CreatedAt, &emailedAt, &rec.ReportKey); err != nil {
		return nil, err
	}

	rec.SafePayload = json.RawMessage(payload)
	if err := json.Unmarshal(response, &rec.Response); err != nil {
		return nil, fmt.Errorf("unmarshaling analysis response: %w", err)
	}
	rec.EmailedAt = emailedAt
	return rec, nil
}

func requireTag(tag pgconn.CommandTag, orderRef string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("analysis record for order %s: %w", orderRef, domain.ErrNotFound)
	}
	return nil
}
