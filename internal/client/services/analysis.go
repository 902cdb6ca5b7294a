package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cellatlas/cellsync/internal/client/api"
	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/repositories/analysis"
	"github.com/cellatlas/cellsync/internal/client/repositories/images"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/logging"
)

// RemoteAnalysis is the slice of the API client used to fetch analysis
// results. Analyses are produced server-side only; there is no local
// fallback beyond the cache.
type RemoteAnalysis interface {
	AnalysisHistory(ctx context.Context, imageID int64) (*api.AnalysisHistory, error)
	JobResult(ctx context.Context, jobID int64) (*api.AnalysisResult, error)
}

type AnalysisService interface {
	// Result returns the latest completed analysis of an image, from the
	// server when online (refreshing the cache), from the cache otherwise.
	Result(ctx context.Context, imageLocalID string) (*models.AnalysisResult, error)
}

type analysisService struct {
	remote RemoteAnalysis
	images images.Repository
	cache  analysis.Repository
	conn   ConnectivitySource
	log    logging.Logger
}

func NewAnalysisService(remote RemoteAnalysis, i images.Repository, cache analysis.Repository,
	conn ConnectivitySource, log logging.Logger) AnalysisService {
	return &analysisService{
		remote: remote,
		images: i,
		cache:  cache,
		conn:   conn,
		log:    log.With("component", "analysis"),
	}
}

func (s *analysisService) Result(ctx context.Context, imageLocalID string) (*models.AnalysisResult, error) {
	img, err := s.images.GetByLocalID(ctx, imageLocalID)
	if err != nil {
		return nil, err
	}
	if img.ServerID == nil {
		// not uploaded yet, an analysis cannot exist
		return nil, common.ErrImageNotSynced
	}

	if !s.conn.Online() {
		return s.cached(ctx, *img.ServerID)
	}

	res, err := s.fetch(ctx, *img.ServerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		// transport trouble: degrade to the cached copy if we have one
		s.log.Warn(ctx, "analysis fetch failed, trying cache", "image_id", *img.ServerID, "error", err)
		if cached, cerr := s.cached(ctx, *img.ServerID); cerr == nil {
			return cached, nil
		}
		return nil, err
	}
	return res, nil
}

func (s *analysisService) cached(ctx context.Context, imageServerID int64) (*models.AnalysisResult, error) {
	res, err := s.cache.GetByImageServerID(ctx, imageServerID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNotCached
	}
	return res, err
}

// fetch resolves the newest completed job for the image, downloads its result
// and replaces the cached row. No completed job maps to common.ErrNotFound.
func (s *analysisService) fetch(ctx context.Context, imageServerID int64) (*models.AnalysisResult, error) {
	history, err := s.remote.AnalysisHistory(ctx, imageServerID)
	if err != nil {
		return nil, err
	}

	job, ok := latestCompleted(history.Analyses)
	if !ok {
		return nil, common.ErrNotFound
	}

	remote, err := s.remote.JobResult(ctx, job.JobID)
	if err != nil {
		return nil, err
	}

	res, err := toModel(remote)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Upsert(ctx, res); err != nil {
		return nil, err
	}
	if err := s.images.SetHasAnalysis(ctx, imageServerID, true); err != nil {
		return nil, err
	}
	return res, nil
}

func latestCompleted(analyses []api.AnalysisSummary) (api.AnalysisSummary, bool) {
	var (
		best  api.AnalysisSummary
		found bool
	)
	for _, a := range analyses {
		if a.Status != api.JobStatusCompleted {
			continue
		}
		if !found || (a.FinishedAt != nil && best.FinishedAt != nil && a.FinishedAt.After(*best.FinishedAt)) {
			best = a
			found = true
		}
	}
	return best, found
}

func toModel(r *api.AnalysisResult) (*models.AnalysisResult, error) {
	res := &models.AnalysisResult{
		ImageServerID:  r.ImageID,
		JobID:          r.JobID,
		ViableCount:    r.Counts.Viable,
		ApoptosisCount: r.Counts.Apoptosis,
		OtherCount:     r.Counts.Other,
		TotalCells:     r.TotalCells,
		AvgConfidence:  r.AvgConfidence,
		ViablePct:      r.Percentages.Viable,
		ApoptosisPct:   r.Percentages.Apoptosis,
		OtherPct:       r.Percentages.Other,
		AnalyzedAt:     r.AnalyzedAt,
		CachedAt:       time.Now().UTC(),
	}
	if r.RawData != nil {
		b, err := json.Marshal(r.RawData)
		if err != nil {
			return nil, fmt.Errorf("encode raw detections: %w", err)
		}
		res.RawDetections = b
	}
	return res, nil
}
