package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, res *models.AnalysisResult) error {
	query := `INSERT OR REPLACE INTO analysis_results
			(image_server_id, job_id, viable_count, apoptosis_count, other_count, total_cells,
			 avg_confidence, viable_pct, apoptosis_pct, other_pct, raw_detections, analyzed_at, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, res.ImageServerID, res.JobID,
		res.ViableCount, res.ApoptosisCount, res.OtherCount, res.TotalCells,
		res.AvgConfidence, res.ViablePct, res.ApoptosisPct, res.OtherPct,
		res.RawDetections, res.AnalyzedAt, res.CachedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis result: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByImageServerID(ctx context.Context, imageServerID int64) (*models.AnalysisResult, error) {
	query := `SELECT image_server_id, job_id, viable_count, apoptosis_count, other_count, total_cells,
			avg_confidence, viable_pct, apoptosis_pct, other_pct, raw_detections, analyzed_at, cached_at
			FROM analysis_results WHERE image_server_id=?`
	row := r.db.QueryRowContext(ctx, query, imageServerID)

	var (
		res models.AnalysisResult
		raw []byte
	)
	err := row.Scan(&res.ImageServerID, &res.JobID, &res.ViableCount, &res.ApoptosisCount,
		&res.OtherCount, &res.TotalCells, &res.AvgConfidence, &res.ViablePct, &res.ApoptosisPct,
		&res.OtherPct, &raw, &res.AnalyzedAt, &res.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select analysis result: %w", err)
	}
	if raw != nil {
		res.RawDetections = raw
	}
	return &res, nil
}

func (r *SQLiteRepository) DeleteByImageServerID(ctx context.Context, imageServerID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE image_server_id=?`, imageServerID)
	if err != nil {
		return fmt.Errorf("failed to delete analysis result: %w", err)
	}
	return nil
}
