// Package syncer drains the durable queue against the remote API (push) and
// then refreshes authoritative server state into the local store (pull).
// A single mutual-exclusion flag serializes cycles: a SyncAll received while
// one is in flight is absorbed, relying on the next trigger to re-attempt.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cellatlas/cellsync/internal/client/api"
	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/repositories/folders"
	"github.com/cellatlas/cellsync/internal/client/repositories/images"
	"github.com/cellatlas/cellsync/internal/client/repositories/queue"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/logging"
)

// Status of the orchestrator as observed by the UI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// RemoteAPI is the slice of the API client the orchestrator pushes and
// pulls through.
type RemoteAPI interface {
	CreateFolder(ctx context.Context, name string) (*api.Folder, error)
	RenameFolder(ctx context.Context, id int64, name string) (*api.Folder, error)
	DeleteFolder(ctx context.Context, id int64) error
	ListFolders(ctx context.Context) ([]api.Folder, error)
	UploadImage(ctx context.Context, folderID int64, filename, mimeType string, data []byte) (*api.Image, error)
	RenameImage(ctx context.Context, id int64, newFilename string) (*api.Image, error)
	DeleteImage(ctx context.Context, id int64) error
	ListImages(ctx context.Context, folderID int64) ([]api.Image, error)
}

// ConnectivitySource answers whether the device is online right now.
type ConnectivitySource interface {
	Online() bool
}

// retryLadder holds the delays for scheduled re-triggers after a recoverable
// push failure, keyed by retry count.
var retryLadder = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// Orchestrator is the sync state machine. Construct with New, start nothing:
// cycles run only when triggered.
type Orchestrator struct {
	remote   RemoteAPI
	folders  folders.Repository
	images   images.Repository
	queue    queue.Repository
	conn     ConnectivitySource
	log      logging.Logger

	mu        sync.Mutex
	syncing   bool
	status    Status
	listeners map[int]func(Status)
	nextID    int

	// test seam for the delayed re-trigger
	schedule func(d time.Duration, fn func())
}

func New(remote RemoteAPI, f folders.Repository, i images.Repository, q queue.Repository, conn ConnectivitySource, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		remote:    remote,
		folders:   f,
		images:    i,
		queue:     q,
		conn:      conn,
		log:       log.With("component", "syncer"),
		status:    StatusIdle,
		listeners: make(map[int]func(Status)),
		schedule:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Status returns the last observed state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Subscribe registers a status listener and returns its unsubscribe function.
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	fns := make([]func(Status), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// SyncAll runs one push+pull cycle. Offline or already-syncing calls return
// immediately without error. Push results are never rolled back by a pull
// failure; both phases are independently idempotent.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	o.mu.Lock()
	if o.syncing || !o.conn.Online() {
		o.mu.Unlock()
		return nil
	}
	o.syncing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.mu.Unlock()
	}()

	o.setStatus(StatusSyncing)
	o.log.Debug(ctx, "sync cycle started")

	hadTerminal, err := o.processSyncQueue(ctx)
	if err != nil {
		// local store failure: fatal for this cycle, propagated uncaught
		o.setStatus(StatusError)
		return err
	}

	if err := o.pullFromServer(ctx); err != nil {
		o.log.Error(ctx, "pull phase failed", "error", err)
		o.setStatus(StatusError)
		return err
	}

	if hadTerminal {
		o.setStatus(StatusError)
		return nil
	}

	o.setStatus(StatusIdle)
	o.log.Debug(ctx, "sync cycle finished")
	return nil
}

// processSyncQueue drains pending entries strictly sequentially in FIFO
// order. Remote failures are isolated per entry; only store errors abort the
// drain. Returns whether any entry exhausted its retries this cycle.
func (o *Orchestrator) processSyncQueue(ctx context.Context) (hadTerminal bool, err error) {
	// a process kill mid-drain leaves entries in processing; reclaim them
	// before reading the pending set
	stale, err := o.queue.ResetProcessing(ctx)
	if err != nil {
		return false, err
	}
	if stale > 0 {
		o.log.Warn(ctx, "reclaimed interrupted queue entries", "count", stale)
	}

	entries, err := o.queue.Pending(ctx)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if err := o.queue.MarkProcessing(ctx, e.ID); err != nil {
			return hadTerminal, err
		}

		applyErr := o.apply(ctx, &e)
		if applyErr == nil {
			if err := o.queue.Remove(ctx, e.ID); err != nil {
				return hadTerminal, err
			}
			continue
		}

		o.log.Warn(ctx, "queue entry failed", "id", e.ID, "operation", e.Operation, "retry", e.RetryCount+1, "error", applyErr)

		e.RetryCount++
		if e.RetryCount >= common.MaxRetryCount {
			if err := o.queue.MarkFailed(ctx, e.ID, e.RetryCount, applyErr.Error()); err != nil {
				return hadTerminal, err
			}
			if err := o.markEntityFailed(ctx, &e); err != nil {
				return hadTerminal, err
			}
			hadTerminal = true
			continue
		}

		if err := o.queue.Requeue(ctx, e.ID, e.RetryCount, applyErr.Error()); err != nil {
			return hadTerminal, err
		}
		o.scheduleRetry(e.RetryCount)
	}

	return hadTerminal, nil
}

// scheduleRetry arms one delayed re-trigger on the backoff ladder. The
// re-trigger is just another SyncAll: it respects the offline guard and the
// single-flight flag like any other trigger.
func (o *Orchestrator) scheduleRetry(retryCount int) {
	idx := retryCount - 1
	if idx < 0 || idx >= len(retryLadder) {
		return
	}
	o.schedule(retryLadder[idx], func() {
		if err := o.SyncAll(context.Background()); err != nil {
			o.log.Error(context.Background(), "scheduled retry cycle failed", "error", err)
		}
	})
}

func (o *Orchestrator) markEntityFailed(ctx context.Context, e *models.QueueEntry) error {
	now := time.Now().UTC()
	var err error
	switch e.EntityType {
	case models.EntityFolder:
		err = o.folders.SetSyncStatus(ctx, e.LocalID, models.StatusFailed, now)
	case models.EntityImage:
		err = o.images.SetSyncStatus(ctx, e.LocalID, models.StatusFailed, now)
	}
	if errors.Is(err, common.ErrNotFound) {
		// entity purged meanwhile, nothing left to flag
		return nil
	}
	return err
}

// apply resolves the entity-specific remote call for one entry. It re-reads
// current row state at drain time, so a create pushed after a rename carries
// the latest name.
func (o *Orchestrator) apply(ctx context.Context, e *models.QueueEntry) error {
	switch e.Operation {
	case models.OpCreateFolder:
		return o.applyCreateFolder(ctx, e)
	case models.OpRenameFolder:
		return o.applyRenameFolder(ctx, e)
	case models.OpDeleteFolder:
		return o.applyDeleteFolder(ctx, e)
	case models.OpUploadImage:
		return o.applyUploadImage(ctx, e)
	case models.OpRenameImage:
		return o.applyRenameImage(ctx, e)
	case models.OpDeleteImage:
		return o.applyDeleteImage(ctx, e)
	default:
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
}

func (o *Orchestrator) applyCreateFolder(ctx context.Context, e *models.QueueEntry) error {
	f, err := o.folders.GetByLocalID(ctx, e.LocalID)
	if err != nil {
		return err
	}
	if f.ServerID != nil {
		// already created on a previous attempt that failed after the call
		return nil
	}

	created, err := o.remote.CreateFolder(ctx, f.Name)
	if err != nil {
		return err
	}
	return o.folders.MarkSynced(ctx, e.LocalID, created.FolderID, time.Now().UTC())
}

func (o *Orchestrator) applyRenameFolder(ctx context.Context, e *models.QueueEntry) error {
	f, err := o.folders.GetByLocalID(ctx, e.LocalID)
	if err != nil {
		return err
	}
	if f.ServerID == nil {
		return common.ErrFolderNotSynced
	}

	if _, err := o.remote.RenameFolder(ctx, *f.ServerID, f.Name); err != nil {
		return err
	}
	return o.folders.MarkSynced(ctx, e.LocalID, *f.ServerID, time.Now().UTC())
}

func (o *Orchestrator) applyDeleteFolder(ctx context.Context, e *models.QueueEntry) error {
	f, err := o.folders.GetByLocalID(ctx, e.LocalID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if f.ServerID != nil {
		if err := o.remote.DeleteFolder(ctx, *f.ServerID); err != nil {
			return err
		}
	}
	// confirmed (or never existed server-side): eligible for purge
	return o.folders.SetSyncStatus(ctx, e.LocalID, models.StatusSynced, time.Now().UTC())
}

func (o *Orchestrator) applyUploadImage(ctx context.Context, e *models.QueueEntry) error {
	img, err := o.images.GetByLocalID(ctx, e.LocalID)
	if err != nil {
		return err
	}
	if img.ServerID != nil {
		return nil
	}

	folderServerID, err := o.resolveFolderServerID(ctx, img)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(img.LocalURI)
	if err != nil {
		return fmt.Errorf("read source image: %w", err)
	}

	uploaded, err := o.remote.UploadImage(ctx, folderServerID, img.Filename, img.MimeType, data)
	if err != nil {
		return err
	}
	return o.images.MarkSynced(ctx, e.LocalID, uploaded.ImageID, time.Now().UTC())
}

// resolveFolderServerID resolves the owning folder's server id lazily at
// drain time. An unresolved folder is a recoverable failure: FIFO ordering
// guarantees the folder's own create entry drains first, so the id appears
// once that entry succeeds.
func (o *Orchestrator) resolveFolderServerID(ctx context.Context, img *models.Image) (int64, error) {
	if img.FolderServerID != nil {
		return *img.FolderServerID, nil
	}

	f, err := o.folders.GetByLocalID(ctx, img.FolderLocalID)
	if err != nil {
		return 0, err
	}
	if f.ServerID == nil {
		return 0, common.ErrFolderNotSynced
	}

	if err := o.images.SetFolderServerID(ctx, img.LocalID, *f.ServerID); err != nil {
		return 0, err
	}
	return *f.ServerID, nil
}

func (o *Orchestrator) applyRenameImage(ctx context.Context, e *models.QueueEntry) error {
	img, err := o.images.GetByLocalID(ctx, e.LocalID)
	if err != nil {
		return err
	}
	if img.ServerID == nil {
		return common.ErrImageNotSynced
	}

	if _, err := o.remote.RenameImage(ctx, *img.ServerID, img.Filename); err != nil {
		return err
	}
	return o.images.MarkSynced(ctx, e.LocalID, *img.ServerID, time.Now().UTC())
}

func (o *Orchestrator) applyDeleteImage(ctx context.Context, e *models.QueueEntry) error {
	img, err := o.images.GetByLocalID(ctx, e.LocalID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if img.ServerID != nil {
		if err := o.remote.DeleteImage(ctx, *img.ServerID); err != nil {
			return err
		}
	}
	return o.images.SetSyncStatus(ctx, e.LocalID, models.StatusSynced, time.Now().UTC())
}

// pullFromServer imports the authoritative folder list, refreshes images of
// known folders and purges confirmed-deleted rows. Absence of a folder from
// the listing never deletes it locally; only a pushed tombstone does.
func (o *Orchestrator) pullFromServer(ctx context.Context) error {
	remoteFolders, err := o.remote.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}

	for _, rf := range remoteFolders {
		serverID := rf.FolderID
		err := o.folders.ImportFromServer(ctx, &models.Folder{
			ServerID:   &serverID,
			Name:       rf.FolderName,
			ImageCount: rf.ImageCount,
			CreatedAt:  rf.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("import folder %d: %w", serverID, err)
		}
	}

	local, err := o.folders.List(ctx)
	if err != nil {
		return err
	}
	for _, f := range local {
		if f.ServerID == nil {
			continue
		}
		remoteImages, err := o.remote.ListImages(ctx, *f.ServerID)
		if err != nil {
			return fmt.Errorf("list images of folder %d: %w", *f.ServerID, err)
		}
		for _, ri := range remoteImages {
			serverID := ri.ImageID
			folderServerID := *f.ServerID
			err := o.images.ImportFromServer(ctx, &models.Image{
				ServerID:       &serverID,
				FolderLocalID:  f.LocalID,
				FolderServerID: &folderServerID,
				Filename:       ri.OriginalFilename,
				FileSize:       ri.FileSize,
				MimeType:       ri.MimeType,
				HasAnalysis:    ri.HasAnalysis,
				UploadedAt:     ri.UploadedAt,
			})
			if err != nil {
				return fmt.Errorf("import image %d: %w", serverID, err)
			}
		}
	}

	if _, err := o.images.PurgeDeleted(ctx); err != nil {
		return err
	}
	if _, err := o.folders.PurgeDeleted(ctx); err != nil {
		return err
	}
	return nil
}

// PendingCount reports queue entries awaiting push.
func (o *Orchestrator) PendingCount(ctx context.Context) (int, error) {
	return o.queue.PendingCount(ctx)
}

// FailedCount reports terminally failed queue entries.
func (o *Orchestrator) FailedCount(ctx context.Context) (int, error) {
	return o.queue.FailedCount(ctx)
}

// RetryFailed resets all failed entries to pending and triggers a cycle.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	n, err := o.queue.ResetFailed(ctx)
	if err != nil {
		return err
	}
	o.log.Info(ctx, "failed entries reset", "count", n)
	if n == 0 {
		return nil
	}
	return o.SyncAll(ctx)
}
