// Package store persists de-identified analysis records keyed by order
// reference. Records never hold identity; raw submissions are never stored.
package store

import (
	"context"
	"io"
	"time"

	"github.com/labsight/deidgate/internal/domain"
)

// Store defines the interface for analysis record storage.
type Store interface {
	// Create inserts rec unless a record for the same order reference exists,
	// as one atomic step. It returns the stored record and whether it was
	// newly created; on conflict the existing record is returned unchanged.
	Create(ctx context.Context, rec *domain.AnalysisRecord) (*domain.AnalysisRecord, bool, error)

	// GetByOrderRef returns the record for orderRef or domain.ErrNotFound.
	GetByOrderRef(ctx context.Context, orderRef string) (*domain.AnalysisRecord, error)

	// MarkEmailed sets emailed_at once; later calls keep the first value.
	MarkEmailed(ctx context.Context, orderRef string, at time.Time) error

	// SetReportKey records where the rendered report was stored.
	SetReportKey(ctx context.Context, orderRef, key string) error

	// List returns records, newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every record to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON creates the records in reader, skipping existing order references.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close releases resources.
	Close() error
}

// RecordExport represents the JSON export format.
type RecordExport struct {
	Version    string                   `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Count      int                      `json:"count"`
	Records    []*domain.AnalysisRecord `json:"records"`
}

// maxExportLimit is the maximum number of records to export at once.
const maxExportLimit = 1000000
