// Package queue persists the durable outbox of local mutations awaiting
// push. Entries are drained strictly FIFO and removed on success; an entry
// that exhausts its retries stays behind with status=failed until the user
// explicitly retries.
package queue

import (
	"context"

	"github.com/cellatlas/cellsync/internal/client/models"
)

type Repository interface {
	// Enqueue appends an entry and fills in its assigned id.
	Enqueue(ctx context.Context, e *models.QueueEntry) error

	// Pending returns all pending entries in FIFO order (created_at, id).
	Pending(ctx context.Context) ([]models.QueueEntry, error)

	// MarkProcessing flags the entry as in flight.
	MarkProcessing(ctx context.Context, id int64) error

	// Requeue returns a failed attempt to pending with the updated retry
	// count and last error, eligible for the next drain.
	Requeue(ctx context.Context, id int64, retryCount int, errMsg string) error

	// MarkFailed parks the entry in the terminal failed state.
	MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string) error

	// Remove deletes the entry after a successful push.
	Remove(ctx context.Context, id int64) error

	// PendingCount counts entries with status pending or processing.
	PendingCount(ctx context.Context) (int, error)

	// FailedCount counts terminally failed entries.
	FailedCount(ctx context.Context) (int, error)

	// ResetFailed returns every failed entry to pending with a zeroed retry
	// count and reports how many were reset.
	ResetFailed(ctx context.Context) (int64, error)

	// ResetProcessing returns entries stranded in processing by an
	// interrupted drain to pending, keeping their retry count and last
	// error, and reports how many were reset.
	ResetProcessing(ctx context.Context) (int64, error)
}
