package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsight/deidgate/internal/domain"
)

func newRecord(orderRef string) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		OrderRef:    orderRef,
		SafePayload: json.RawMessage(`{"patient_id":"pt_aB3dE6gH","age_bucket":"35-44","sex":"Female","labs":[{"test":"Ferritin","value":18}]}`),
		Response: domain.AnalysisResult{
			Structured: &domain.StructuredAnalysis{Flags: domain.AnalysisItems{"Ferritin is low"}},
			RawText:    `{"flags":["Ferritin is low"]}`,
			Format:     domain.FormatJSON,
			Model:      "test-model",
		},
	}
}

// testStoreBehaviour runs the behaviour every Store implementation shares.
func testStoreBehaviour(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		stored, created, err := s.Create(ctx, newRecord("order-1"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())

		got, err := s.GetByOrderRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, stored.ID, got.ID)
		assert.JSONEq(t, string(stored.SafePayload), string(got.SafePayload))
		assert.Equal(t, domain.FormatJSON, got.Response.Format)
		assert.Equal(t, domain.AnalysisItems{"Ferritin is low"}, got.Response.Structured.Flags)
		assert.Nil(t, got.EmailedAt)
	})

	t.Run("create is idempotent per order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, created, err := s.Create(ctx, newRecord("order-2"))
		require.NoError(t, err)
		require.True(t, created)

		again := newRecord("order-2")
		again.Response.RawText = "different"
		second, created, err := s.Create(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.Response.RawText, second.Response.RawText)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("concurrent creates store one record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			ids     = map[string]struct{}{}
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, ok, err := s.Create(ctx, newRecord("order-race"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if ok {
					created++
				}
				ids[rec.ID] = struct{}{}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)
		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("missing record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetByOrderRef(ctx, "nope")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.True(t, errors.Is(s.MarkEmailed(ctx, "nope", time.Now()), domain.ErrNotFound))
		assert.True(t, errors.Is(s.SetReportKey(ctx, "nope", "k"), domain.ErrNotFound))
	})

	t.Run("invalid record", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Create(context.Background(), &domain.AnalysisRecord{})
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("mark emailed keeps first timestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _, err := s.Create(ctx, newRecord("order-3"))
		require.NoError(t, err)

		first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkEmailed(ctx, "order-3", first))
		require.NoError(t, s.MarkEmailed(ctx, "order-3", first.Add(time.Hour)))
		require.NoError(t, s.SetReportKey(ctx, "order-3", "reports/abc.html"))

		got, err := s.GetByOrderRef(ctx, "order-3")
		require.NoError(t, err)
		require.NotNil(t, got.EmailedAt)
		assert.True(t, first.Equal(*got.EmailedAt), "got %v", got.EmailedAt)
		assert.Equal(t, "reports/abc.html", got.ReportKey)
	})

	t.Run("list export import", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			rec := newRecord(fmt.Sprintf("order-list-%d", i))
			rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			_, _, err := s.Create(ctx, rec)
			require.NoError(t, err)
		}

		list, err := s.List(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "order-list-2", list[0].OrderRef)
		assert.Equal(t, "order-list-1", list[1].OrderRef)

		var buf bytes.Buffer
		require.NoError(t, s.ExportJSON(ctx, &buf))

		var export RecordExport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
		assert.Equal(t, "1.0", export.Version)
		assert.Equal(t, 3, export.Count)

		target := newStore(t)
		_, _, err = target.Create(ctx, newRecord("order-list-0"))
		require.NoError(t, err)

		imported, skipped, err := target.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 2, imported)
		assert.Equal(t, 1, skipped)
	})
}
