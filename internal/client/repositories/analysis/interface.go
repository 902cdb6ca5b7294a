// Package analysis caches remote AI analysis results, one row per server
// image id. The cache is read-through: rows are only written when a remote
// result is fetched, and a later fetch replaces the row wholesale.
package analysis

import (
	"context"

	"github.com/cellatlas/cellsync/internal/client/models"
)

type Repository interface {
	// Upsert replaces the cached result for the image entirely.
	Upsert(ctx context.Context, res *models.AnalysisResult) error

	// GetByImageServerID returns the cached result or common.ErrNotFound.
	GetByImageServerID(ctx context.Context, imageServerID int64) (*models.AnalysisResult, error)

	// DeleteByImageServerID drops the cached row; missing rows are fine.
	DeleteByImageServerID(ctx context.Context, imageServerID int64) error
}
