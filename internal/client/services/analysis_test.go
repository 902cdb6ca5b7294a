package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cellatlas/cellsync/internal/client/api"
	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/repositories/analysis"
	"github.com/cellatlas/cellsync/internal/client/repositories/images"
	"github.com/cellatlas/cellsync/internal/client/store"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type stubRemoteAnalysis struct {
	history    *api.AnalysisHistory
	historyErr error
	result     *api.AnalysisResult
	resultErr  error
	calls      int
}

func (r *stubRemoteAnalysis) AnalysisHistory(context.Context, int64) (*api.AnalysisHistory, error) {
	r.calls++
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return r.history, nil
}

func (r *stubRemoteAnalysis) JobResult(context.Context, int64) (*api.AnalysisResult, error) {
	if r.resultErr != nil {
		return nil, r.resultErr
	}
	return r.result, nil
}

type analysisFixture struct {
	svc    AnalysisService
	images images.Repository
	cache  analysis.Repository
	remote *stubRemoteAnalysis
	conn   *stubConn
}

func newAnalysisFixture(t *testing.T) *analysisFixture {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fx := &analysisFixture{
		images: images.NewSQLiteRepository(db),
		cache:  analysis.NewSQLiteRepository(db),
		remote: &stubRemoteAnalysis{},
		conn:   &stubConn{online: true},
	}
	log := logging.NewTextLogger(io.Discard, slog.LevelError)
	fx.svc = NewAnalysisService(fx.remote, fx.images, fx.cache, fx.conn, log)
	return fx
}

func (fx *analysisFixture) addSyncedImage(t *testing.T, localID string, serverID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.images.Create(ctx, &models.Image{
		LocalID: localID, FolderLocalID: "f1", Filename: "a.jpg",
		UploadedAt: time.Now().UTC(), SyncStatus: models.StatusPending,
	}))
	require.NoError(t, fx.images.MarkSynced(ctx, localID, serverID, time.Now().UTC()))
}

func completedHistory(jobID int64, finished time.Time) *api.AnalysisHistory {
	return &api.AnalysisHistory{
		ImageID: 42,
		Analyses: []api.AnalysisSummary{
			{JobID: jobID, Status: api.JobStatusCompleted, FinishedAt: &finished},
		},
		Total: 1,
	}
}

func sampleResult(jobID int64) *api.AnalysisResult {
	return &api.AnalysisResult{
		ResultID:      7,
		JobID:         jobID,
		ImageID:       42,
		Counts:        api.CellCounts{Viable: 120, Apoptosis: 30, Other: 10},
		TotalCells:    160,
		AvgConfidence: 0.91,
		Percentages:   api.CellPercentages{Viable: 75, Apoptosis: 18.75, Other: 6.25},
		RawData: &api.RawDetectionData{BoundingBoxes: []api.BoundingBox{
			{Class: "viable", Confidence: 0.97, X: 10, Y: 12, Width: 30, Height: 28},
		}},
		AnalyzedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestAnalysisResult_OnlineFetchPopulatesCache(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()
	fx.addSyncedImage(t, "i1", 42)
	fx.remote.history = completedHistory(9, time.Now().UTC())
	fx.remote.result = sampleResult(9)

	res, err := fx.svc.Result(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.ImageServerID)
	assert.Equal(t, 120, res.ViableCount)
	assert.Equal(t, 160, res.TotalCells)
	assert.InDelta(t, 75.0, res.ViablePct, 0.001)
	assert.NotEmpty(t, res.RawDetections)

	cached, err := fx.cache.GetByImageServerID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cached.JobID)

	img, err := fx.images.GetByServerID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, img.HasAnalysis)
}

func TestAnalysisResult_OfflineServedFromCache(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()
	fx.addSyncedImage(t, "i1", 42)

	require.NoError(t, fx.cache.Upsert(ctx, &models.AnalysisResult{
		ImageServerID: 42, JobID: 9, ViableCount: 120, TotalCells: 160,
		AnalyzedAt: time.Now().UTC(), CachedAt: time.Now().UTC(),
	}))

	fx.conn.online = false
	res, err := fx.svc.Result(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, 120, res.ViableCount)
	assert.Zero(t, fx.remote.calls, "offline reads never touch the network")
}

func TestAnalysisResult_OfflineUncached(t *testing.T) {
	fx := newAnalysisFixture(t)
	fx.addSyncedImage(t, "i1", 42)
	fx.conn.online = false

	_, err := fx.svc.Result(context.Background(), "i1")
	assert.ErrorIs(t, err, common.ErrNotCached)
}

func TestAnalysisResult_UnsyncedImage(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.images.Create(ctx, &models.Image{
		LocalID: "i1", FolderLocalID: "f1", Filename: "a.jpg",
		UploadedAt: time.Now().UTC(), SyncStatus: models.StatusPending,
	}))

	_, err := fx.svc.Result(ctx, "i1")
	assert.ErrorIs(t, err, common.ErrImageNotSynced)
}

func TestAnalysisResult_FetchFailureFallsBackToCache(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()
	fx.addSyncedImage(t, "i1", 42)

	require.NoError(t, fx.cache.Upsert(ctx, &models.AnalysisResult{
		ImageServerID: 42, JobID: 9, ViableCount: 120, TotalCells: 160,
		AnalyzedAt: time.Now().UTC(), CachedAt: time.Now().UTC(),
	}))
	fx.remote.historyErr = &api.Error{Status: 503, Message: "unavailable"}

	res, err := fx.svc.Result(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.JobID)
}

func TestAnalysisResult_NoCompletedJob(t *testing.T) {
	fx := newAnalysisFixture(t)
	fx.addSyncedImage(t, "i1", 42)
	running := time.Now().UTC()
	fx.remote.history = &api.AnalysisHistory{
		ImageID:  42,
		Analyses: []api.AnalysisSummary{{JobID: 9, Status: "running", FinishedAt: &running}},
		Total:    1,
	}

	_, err := fx.svc.Result(context.Background(), "i1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAnalysisResult_PicksNewestCompleted(t *testing.T) {
	fx := newAnalysisFixture(t)
	fx.addSyncedImage(t, "i1", 42)

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	fx.remote.history = &api.AnalysisHistory{
		ImageID: 42,
		Analyses: []api.AnalysisSummary{
			{JobID: 3, Status: api.JobStatusCompleted, FinishedAt: &older},
			{JobID: 9, Status: api.JobStatusCompleted, FinishedAt: &newer},
		},
		Total: 2,
	}
	fx.remote.result = sampleResult(9)

	res, err := fx.svc.Result(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.JobID)
}
