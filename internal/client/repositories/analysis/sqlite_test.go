package analysis

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/store"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sample(imageServerID, jobID int64) *models.AnalysisResult {
	return &models.AnalysisResult{
		ImageServerID:  imageServerID,
		JobID:          jobID,
		ViableCount:    120,
		ApoptosisCount: 30,
		OtherCount:     10,
		TotalCells:     160,
		AvgConfidence:  0.91,
		ViablePct:      75,
		ApoptosisPct:   18.75,
		OtherPct:       6.25,
		RawDetections:  []byte(`{"bounding_boxes":[{"class":"viable","confidence":0.98,"x":1,"y":2,"width":10,"height":12}]}`),
		AnalyzedAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		CachedAt:       time.Date(2026, 3, 1, 8, 1, 0, 0, time.UTC),
	}
}

func TestUpsert_ReplacesRow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sample(42, 7)))

	// a later fetch replaces the cached row entirely
	updated := sample(42, 8)
	updated.ViableCount = 200
	updated.TotalCells = 240
	require.NoError(t, r.Upsert(ctx, updated))

	got, err := r.GetByImageServerID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.JobID)
	assert.Equal(t, 200, got.ViableCount)
	assert.Equal(t, 240, got.TotalCells)

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM analysis_results`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetByImageServerID_RoundTrip(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	want := sample(42, 7)
	require.NoError(t, r.Upsert(ctx, want))

	got, err := r.GetByImageServerID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, want.ViableCount, got.ViableCount)
	assert.Equal(t, want.AvgConfidence, got.AvgConfidence)
	assert.Equal(t, want.RawDetections, got.RawDetections)
	assert.True(t, want.AnalyzedAt.Equal(got.AnalyzedAt))

	_, err = r.GetByImageServerID(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteByImageServerID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sample(42, 7)))
	require.NoError(t, r.DeleteByImageServerID(ctx, 42))

	_, err := r.GetByImageServerID(ctx, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// deleting a missing row is not an error
	require.NoError(t, r.DeleteByImageServerID(ctx, 42))
}
