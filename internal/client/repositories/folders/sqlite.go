package folders

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

const folderColumns = `local_id, server_id, name, image_count, created_at, sync_status, last_sync_at, is_deleted`

func scanFolder(row interface{ Scan(dest ...any) error }) (*models.Folder, error) {
	var (
		f        models.Folder
		serverID sql.NullInt64
		lastSync sql.NullTime
		status   string
	)
	err := row.Scan(&f.LocalID, &serverID, &f.Name, &f.ImageCount, &f.CreatedAt, &status, &lastSync, &f.Deleted)
	if err != nil {
		return nil, err
	}
	f.SyncStatus = models.SyncStatus(status)
	if serverID.Valid {
		f.ServerID = &serverID.Int64
	}
	if lastSync.Valid {
		f.LastSyncAt = &lastSync.Time
	}
	return &f, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, f *models.Folder) error {
	query := `INSERT INTO folders (local_id, server_id, name, image_count, created_at, sync_status, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, 0)`
	var serverID any
	if f.ServerID != nil {
		serverID = *f.ServerID
	}
	_, err := r.db.ExecContext(ctx, query, f.LocalID, serverID, f.Name, f.ImageCount, f.CreatedAt, string(f.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByLocalID(ctx context.Context, localID string) (*models.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE local_id=?`
	f, err := scanFolder(r.db.QueryRowContext(ctx, query, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) GetByServerID(ctx context.Context, serverID int64) (*models.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE server_id=?`
	f, err := scanFolder(r.db.QueryRowContext(ctx, query, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE is_deleted=0 ORDER BY created_at, local_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select folders: %w", err)
	}
	defer rows.Close()

	var result []models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Rename(ctx context.Context, localID, newName string) error {
	query := `UPDATE folders SET name=?, sync_status=? WHERE local_id=?`
	return r.execOne(ctx, "rename folder", query, newName, string(models.StatusPending), localID)
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, localID string) error {
	query := `UPDATE folders SET is_deleted=1, sync_status=? WHERE local_id=?`
	return r.execOne(ctx, "delete folder", query, string(models.StatusPending), localID)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, localID string, serverID int64, at time.Time) error {
	query := `UPDATE folders SET server_id=?, sync_status=?, last_sync_at=? WHERE local_id=?`
	return r.execOne(ctx, "mark folder synced", query, serverID, string(models.StatusSynced), at, localID)
}

func (r *SQLiteRepository) SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus, at time.Time) error {
	query := `UPDATE folders SET sync_status=?, last_sync_at=? WHERE local_id=?`
	return r.execOne(ctx, "set folder sync status", query, string(status), at, localID)
}

func (r *SQLiteRepository) ImportFromServer(ctx context.Context, f *models.Folder) error {
	if f.ServerID == nil {
		return fmt.Errorf("import folder: server id is required")
	}

	// Merge into the existing row for this server id. Tombstoned rows are
	// skipped: a pending local delete wins until it has been pushed.
	query := `UPDATE folders SET name=?, image_count=?, sync_status=?, last_sync_at=?
			WHERE server_id=? AND is_deleted=0`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, f.Name, f.ImageCount, string(models.StatusSynced), now, *f.ServerID)
	if err != nil {
		return fmt.Errorf("failed to merge folder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM folders WHERE server_id=?`, *f.ServerID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check folder existence: %w", err)
	}
	if n > 0 {
		// tombstoned locally, leave it alone
		return nil
	}

	insert := `INSERT INTO folders (local_id, server_id, name, image_count, created_at, sync_status, last_sync_at, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)`
	_, err = r.db.ExecContext(ctx, insert, uuid.NewString(), *f.ServerID, f.Name, f.ImageCount, f.CreatedAt, string(models.StatusSynced), now)
	if err != nil {
		return fmt.Errorf("failed to insert imported folder: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PurgeDeleted(ctx context.Context) (int64, error) {
	query := `DELETE FROM folders WHERE is_deleted=1 AND sync_status=?`
	res, err := r.db.ExecContext(ctx, query, string(models.StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to purge folders: %w", err)
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
