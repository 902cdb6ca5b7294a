// Package folders persists locally known folders and their sync state.
package folders

import (
	"context"
	"time"

	"github.com/cellatlas/cellsync/internal/client/models"
)

// Repository is the typed CRUD facade over the folders table. Deletion is a
// tombstone flag, never a synchronous row removal; rows are only removed by
// PurgeDeleted once the deletion has been confirmed server-side.
type Repository interface {
	// Create inserts a new locally created folder (optimistic, pending).
	Create(ctx context.Context, f *models.Folder) error

	// GetByLocalID returns the folder or common.ErrNotFound.
	GetByLocalID(ctx context.Context, localID string) (*models.Folder, error)

	// GetByServerID returns the folder or common.ErrNotFound.
	GetByServerID(ctx context.Context, serverID int64) (*models.Folder, error)

	// List returns all non-deleted folders ordered by creation time.
	List(ctx context.Context) ([]models.Folder, error)

	// Rename updates the name in place and resets sync status to pending.
	Rename(ctx context.Context, localID, newName string) error

	// SoftDelete sets the tombstone flag and resets sync status to pending.
	SoftDelete(ctx context.Context, localID string) error

	// MarkSynced records the server id assigned by a successful push.
	MarkSynced(ctx context.Context, localID string, serverID int64, at time.Time) error

	// SetSyncStatus updates the sync status alone (failed, or confirming a
	// pushed delete as synced).
	SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus, at time.Time) error

	// ImportFromServer upserts authoritative server state by server id.
	// Tombstoned local rows are left untouched; absence from a pull never
	// deletes anything.
	ImportFromServer(ctx context.Context, f *models.Folder) error

	// PurgeDeleted hard-deletes rows whose deletion is confirmed
	// (is_deleted and synced) and returns the number removed.
	PurgeDeleted(ctx context.Context) (int64, error)
}
