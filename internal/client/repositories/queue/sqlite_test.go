package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/store"
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

func enqueue(t *testing.T, r *SQLiteRepository, op models.Operation, entity models.EntityType, localID string, at time.Time) *models.QueueEntry {
	t.Helper()
	e := &models.QueueEntry{Operation: op, EntityType: entity, LocalID: localID, CreatedAt: at}
	require.NoError(t, r.Enqueue(context.Background(), e))
	return e
}

func TestEnqueue_AssignsID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	e := &models.QueueEntry{
		Operation:  models.OpCreateFolder,
		EntityType: models.EntityFolder,
		LocalID:    "f1",
		Payload:    models.CreateFolderPayload{Name: "Batch-1"},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, r.Enqueue(context.Background(), e))
	assert.Positive(t, e.ID)
	assert.Equal(t, models.QueuePending, e.Status)
}

func TestPending_FIFOOrder(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	enqueue(t, r, models.OpCreateFolder, models.EntityFolder, "f1", base)
	enqueue(t, r, models.OpUploadImage, models.EntityImage, "i1", base.Add(time.Second))
	enqueue(t, r, models.OpRenameFolder, models.EntityFolder, "f1", base.Add(2*time.Second))

	got, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.OpCreateFolder, got[0].Operation)
	assert.Equal(t, models.OpUploadImage, got[1].Operation)
	assert.Equal(t, models.OpRenameFolder, got[2].Operation)
}

func TestPending_DecodesPayloadOnce(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := &models.QueueEntry{
		Operation:  models.OpUploadImage,
		EntityType: models.EntityImage,
		LocalID:    "i1",
		Payload:    models.UploadImagePayload{SourceURI: "/dev/a.jpg", Filename: "a.jpg", MimeType: "image/jpeg"},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, r.Enqueue(ctx, e))

	got, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	p, ok := got[0].Payload.(models.UploadImagePayload)
	require.True(t, ok)
	assert.Equal(t, "a.jpg", p.Filename)
}

func TestRequeueAndMarkFailed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := enqueue(t, r, models.OpCreateFolder, models.EntityFolder, "f1", time.Now().UTC())

	require.NoError(t, r.MarkProcessing(ctx, e.ID))
	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "processing entry is not eligible for drain")

	require.NoError(t, r.Requeue(ctx, e.ID, 1, "network timeout"))
	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	require.NotNil(t, pending[0].ErrorMessage)
	assert.Equal(t, "network timeout", *pending[0].ErrorMessage)

	require.NoError(t, r.MarkFailed(ctx, e.ID, 3, "gave up"))
	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := r.FailedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestRemove(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := enqueue(t, r, models.OpDeleteImage, models.EntityImage, "i1", time.Now().UTC())
	require.NoError(t, r.Remove(ctx, e.ID))

	n, err := r.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetProcessing(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e1 := enqueue(t, r, models.OpCreateFolder, models.EntityFolder, "f1", time.Now().UTC())
	e2 := enqueue(t, r, models.OpUploadImage, models.EntityImage, "i1", time.Now().UTC())
	require.NoError(t, r.MarkProcessing(ctx, e1.ID))
	require.NoError(t, r.Requeue(ctx, e2.ID, 2, "network timeout"))

	n, err := r.ResetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// retry bookkeeping of untouched entries survives the reset
	assert.Equal(t, 2, pending[1].RetryCount)
}

func TestResetFailed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e1 := enqueue(t, r, models.OpCreateFolder, models.EntityFolder, "f1", time.Now().UTC())
	e2 := enqueue(t, r, models.OpRenameFolder, models.EntityFolder, "f1", time.Now().UTC())
	require.NoError(t, r.MarkFailed(ctx, e1.ID, 3, "x"))
	require.NoError(t, r.MarkFailed(ctx, e2.ID, 3, "y"))

	n, err := r.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, e := range pending {
		assert.Zero(t, e.RetryCount)
		assert.Nil(t, e.ErrorMessage)
	}
}
