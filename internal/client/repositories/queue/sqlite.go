package queue

import (
	"context"
	"database/sql"
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

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.QueueEntry) error {
	payload, err := models.EncodePayload(e.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_queue (operation, entity_type, local_id, payload, status, retry_count, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, query, string(e.Operation), string(e.EntityType),
		e.LocalID, payload, string(models.QueuePending), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", e.Operation, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get queue entry id: %w", err)
	}
	e.ID = id
	e.Status = models.QueuePending
	return nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]models.QueueEntry, error) {
	query := `SELECT id, operation, entity_type, local_id, payload, status, retry_count, created_at, error_message
			FROM sync_queue WHERE status=? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, string(models.QueuePending))
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	var result []models.QueueEntry
	for rows.Next() {
		var (
			e       models.QueueEntry
			op      string
			entity  string
			payload string
			status  string
			errMsg  sql.NullString
		)
		if err := rows.Scan(&e.ID, &op, &entity, &e.LocalID, &payload, &status, &e.RetryCount, &e.CreatedAt, &errMsg); err != nil {
			return nil, err
		}
		e.Operation = models.Operation(op)
		e.EntityType = models.EntityType(entity)
		e.Status = models.QueueStatus(status)
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}

		// decoded exactly once, here
		p, err := models.DecodePayload(e.Operation, payload)
		if err != nil {
			return nil, err
		}
		e.Payload = p

		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET status=? WHERE id=?`
	return r.execOne(ctx, "mark entry processing", query, string(models.QueueProcessing), id)
}

func (r *SQLiteRepository) Requeue(ctx context.Context, id int64, retryCount int, errMsg string) error {
	query := `UPDATE sync_queue SET status=?, retry_count=?, error_message=? WHERE id=?`
	return r.execOne(ctx, "requeue entry", query, string(models.QueuePending), retryCount, errMsg, id)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string) error {
	query := `UPDATE sync_queue SET status=?, retry_count=?, error_message=? WHERE id=?`
	return r.execOne(ctx, "mark entry failed", query, string(models.QueueFailed), retryCount, errMsg, id)
}

func (r *SQLiteRepository) Remove(ctx context.Context, id int64) error {
	return r.execOne(ctx, "remove entry", `DELETE FROM sync_queue WHERE id=?`, id)
}

func (r *SQLiteRepository) PendingCount(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM sync_queue WHERE status IN (?, ?)`
	err := r.db.QueryRowContext(ctx, query, string(models.QueuePending), string(models.QueueProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) FailedCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM sync_queue WHERE status=?`, string(models.QueueFailed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context) (int64, error) {
	query := `UPDATE sync_queue SET status=?, retry_count=0, error_message=NULL WHERE status=?`
	res, err := r.db.ExecContext(ctx, query, string(models.QueuePending), string(models.QueueFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ResetProcessing(ctx context.Context) (int64, error) {
	query := `UPDATE sync_queue SET status=? WHERE status=?`
	res, err := r.db.ExecContext(ctx, query, string(models.QueuePending), string(models.QueueProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing entries: %w", err)
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
