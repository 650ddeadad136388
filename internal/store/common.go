package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/labsight/deidgate/internal/domain"
)

// prepare fills the id and timestamp and encodes the response column.
func prepare(rec *domain.AnalysisRecord) ([]byte, error) {
	if rec.OrderRef == "" {
		return nil, domain.NewValidationError("order_ref", "order reference is required")
	}
	if len(rec.SafePayload) == 0 {
		return nil, domain.NewValidationError("safe_payload", "payload is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return nil, fmt.Errorf("marshaling analysis response: %w", err)
	}
	return response, nil
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if all == nil {
		all = []*domain.AnalysisRecord{}
	}

	export := &RecordExport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Records:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export RecordExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, rec := range export.Records {
		_, created, err := s.Create(ctx, rec)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to import %s: %w", rec.OrderRef, err)
		}
		if created {
			imported++
		} else {
			skipped++
		}
	}
	return imported, skipped, nil
}
