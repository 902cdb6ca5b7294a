// Package images persists locally known images, their cache pointers and
// their sync state.
package images

import (
	"context"
	"time"

	"github.com/cellatlas/cellsync/internal/client/models"
)

// Repository is the typed CRUD facade over the images table.
type Repository interface {
	// Create inserts a new locally picked image (optimistic, pending).
	Create(ctx context.Context, img *models.Image) error

	// GetByLocalID returns the image or common.ErrNotFound.
	GetByLocalID(ctx context.Context, localID string) (*models.Image, error)

	// GetByServerID returns the image or common.ErrNotFound.
	GetByServerID(ctx context.Context, serverID int64) (*models.Image, error)

	// ListByFolder returns all non-deleted images of a folder.
	ListByFolder(ctx context.Context, folderLocalID string) ([]models.Image, error)

	// Rename updates the filename in place and resets sync status to pending.
	Rename(ctx context.Context, localID, newFilename string) error

	// SoftDelete sets the tombstone flag and resets sync status to pending.
	SoftDelete(ctx context.Context, localID string) error

	// MarkSynced records the server id assigned by a successful upload.
	MarkSynced(ctx context.Context, localID string, serverID int64, at time.Time) error

	// SetSyncStatus updates the sync status alone.
	SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus, at time.Time) error

	// SetFolderServerID records the lazily resolved server id of the
	// owning folder.
	SetFolderServerID(ctx context.Context, localID string, folderServerID int64) error

	// SetCachedPath records (or clears, with nil) the byte-cache file path
	// for a downloaded image.
	SetCachedPath(ctx context.Context, serverID int64, path *string) error

	// ClearAllCachedPaths nulls every cache pointer (full cache wipe).
	ClearAllCachedPaths(ctx context.Context) error

	// SetHasAnalysis mirrors the remote "has analysis" flag.
	SetHasAnalysis(ctx context.Context, serverID int64, has bool) error

	// ImportFromServer upserts authoritative server state by server id,
	// preserving local-only fields (cache pointer, source URI, tombstone).
	ImportFromServer(ctx context.Context, img *models.Image) error

	// PurgeDeleted hard-deletes rows whose deletion is confirmed.
	PurgeDeleted(ctx context.Context) (int64, error)
}
