package images

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/dbx"
	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const imageColumns = `local_id, server_id, folder_local_id, folder_server_id, filename, local_uri,
	cached_file_path, file_size, mime_type, has_analysis, uploaded_at, sync_status, last_sync_at, is_deleted`

func scanImage(row interface{ Scan(dest ...any) error }) (*models.Image, error) {
	var (
		img            models.Image
		serverID       sql.NullInt64
		folderServerID sql.NullInt64
		cachedPath     sql.NullString
		lastSync       sql.NullTime
		status         string
	)
	err := row.Scan(&img.LocalID, &serverID, &img.FolderLocalID, &folderServerID, &img.Filename,
		&img.LocalURI, &cachedPath, &img.FileSize, &img.MimeType, &img.HasAnalysis,
		&img.UploadedAt, &status, &lastSync, &img.Deleted)
	if err != nil {
		return nil, err
	}
	img.SyncStatus = models.SyncStatus(status)
	if serverID.Valid {
		img.ServerID = &serverID.Int64
	}
	if folderServerID.Valid {
		img.FolderServerID = &folderServerID.Int64
	}
	if cachedPath.Valid {
		img.CachedFilePath = &cachedPath.String
	}
	if lastSync.Valid {
		img.LastSyncAt = &lastSync.Time
	}
	return &img, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, img *models.Image) error {
	query := `INSERT INTO images (local_id, server_id, folder_local_id, folder_server_id, filename,
			local_uri, file_size, mime_type, has_analysis, uploaded_at, sync_status, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`
	var serverID, folderServerID any
	if img.ServerID != nil {
		serverID = *img.ServerID
	}
	if img.FolderServerID != nil {
		folderServerID = *img.FolderServerID
	}
	_, err := r.db.ExecContext(ctx, query, img.LocalID, serverID, img.FolderLocalID, folderServerID,
		img.Filename, img.LocalURI, img.FileSize, img.MimeType, img.HasAnalysis, img.UploadedAt,
		string(img.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByLocalID(ctx context.Context, localID string) (*models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE local_id=?`
	img, err := scanImage(r.db.QueryRowContext(ctx, query, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select image: %w", err)
	}
	return img, nil
}

func (r *SQLiteRepository) GetByServerID(ctx context.Context, serverID int64) (*models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE server_id=?`
	img, err := scanImage(r.db.QueryRowContext(ctx, query, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select image: %w", err)
	}
	return img, nil
}

func (r *SQLiteRepository) ListByFolder(ctx context.Context, folderLocalID string) ([]models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE folder_local_id=? AND is_deleted=0 ORDER BY uploaded_at, local_id`
	rows, err := r.db.QueryContext(ctx, query, folderLocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to select images: %w", err)
	}
	defer rows.Close()

	var result []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Rename(ctx context.Context, localID, newFilename string) error {
	query := `UPDATE images SET filename=?, sync_status=? WHERE local_id=?`
	return r.execOne(ctx, "rename image", query, newFilename, string(models.StatusPending), localID)
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, localID string) error {
	query := `UPDATE images SET is_deleted=1, sync_status=? WHERE local_id=?`
	return r.execOne(ctx, "delete image", query, string(models.StatusPending), localID)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, localID string, serverID int64, at time.Time) error {
	query := `UPDATE images SET server_id=?, sync_status=?, last_sync_at=? WHERE local_id=?`
	return r.execOne(ctx, "mark image synced", query, serverID, string(models.StatusSynced), at, localID)
}

func (r *SQLiteRepository) SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus, at time.Time) error {
	query := `UPDATE images SET sync_status=?, last_sync_at=? WHERE local_id=?`
	return r.execOne(ctx, "set image sync status", query, string(status), at, localID)
}

func (r *SQLiteRepository) SetFolderServerID(ctx context.Context, localID string, folderServerID int64) error {
	query := `UPDATE images SET folder_server_id=? WHERE local_id=?`
	return r.execOne(ctx, "set folder server id", query, folderServerID, localID)
}

func (r *SQLiteRepository) SetCachedPath(ctx context.Context, serverID int64, path *string) error {
	query := `UPDATE images SET cached_file_path=? WHERE server_id=?`
	var v any
	if path != nil {
		v = *path
	}
	return r.execOne(ctx, "set cached path", query, v, serverID)
}

func (r *SQLiteRepository) ClearAllCachedPaths(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE images SET cached_file_path=NULL WHERE cached_file_path IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to clear cached paths: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SetHasAnalysis(ctx context.Context, serverID int64, has bool) error {
	query := `UPDATE images SET has_analysis=? WHERE server_id=?`
	return r.execOne(ctx, "set has_analysis", query, has, serverID)
}

func (r *SQLiteRepository) ImportFromServer(ctx context.Context, img *models.Image) error {
	if img.ServerID == nil {
		return fmt.Errorf("import image: server id is required")
	}

	// Merge server fields into the existing row; local-only columns
	// (local_uri, cached_file_path) and tombstones are preserved.
	query := `UPDATE images SET folder_local_id=?, folder_server_id=?, filename=?, file_size=?,
			mime_type=?, has_analysis=?, uploaded_at=?, sync_status=?, last_sync_at=?
			WHERE server_id=? AND is_deleted=0`
	now := time.Now().UTC()
	var folderServerID any
	if img.FolderServerID != nil {
		folderServerID = *img.FolderServerID
	}
	res, err := r.db.ExecContext(ctx, query, img.FolderLocalID, folderServerID, img.Filename,
		img.FileSize, img.MimeType, img.HasAnalysis, img.UploadedAt, string(models.StatusSynced),
		now, *img.ServerID)
	if err != nil {
		return fmt.Errorf("failed to merge image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM images WHERE server_id=?`, *img.ServerID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check image existence: %w", err)
	}
	if n > 0 {
		// tombstoned locally, leave it alone
		return nil
	}

	insert := `INSERT INTO images (local_id, server_id, folder_local_id, folder_server_id, filename,
			local_uri, file_size, mime_type, has_analysis, uploaded_at, sync_status, last_sync_at, is_deleted)
			VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, 0)`
	_, err = r.db.ExecContext(ctx, insert, uuid.NewString(), *img.ServerID, img.FolderLocalID,
		folderServerID, img.Filename, img.FileSize, img.MimeType, img.HasAnalysis, img.UploadedAt,
		string(models.StatusSynced), now)
	if err != nil {
		return fmt.Errorf("failed to insert imported image: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PurgeDeleted(ctx context.Context) (int64, error) {
	query := `DELETE FROM images WHERE is_deleted=1 AND sync_status=?`
	res, err := r.db.ExecContext(ctx, query, string(models.StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to purge images: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}
