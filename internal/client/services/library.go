// Package services exposes the offline-first facade the UI talks to. Every
// read is answered from the local store; every write lands in the local store
// and the durable queue first, with a background sync trigger when the device
// is online. Remote failures on reads degrade to local data, never to errors.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/cellatlas/cellsync/internal/client/api"
	"github.com/cellatlas/cellsync/internal/client/imgcache"
	"github.com/cellatlas/cellsync/internal/client/models"
	"github.com/cellatlas/cellsync/internal/client/repositories/folders"
	"github.com/cellatlas/cellsync/internal/client/repositories/images"
	"github.com/cellatlas/cellsync/internal/client/repositories/queue"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/dbx"
	"github.com/cellatlas/cellsync/internal/logging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// RemoteLibrary is the slice of the API client the facade reads through when
// online.
type RemoteLibrary interface {
	ListFolders(ctx context.Context) ([]api.Folder, error)
	ListImages(ctx context.Context, folderID int64) ([]api.Image, error)
}

// SyncTrigger starts one push+pull cycle. The syncer satisfies this.
type SyncTrigger interface {
	SyncAll(ctx context.Context) error
}

// ConnectivitySource answers whether the device is online right now.
type ConnectivitySource interface {
	Online() bool
}

// ImageLocator resolves the display location of cached or remote image bytes.
type ImageLocator interface {
	ImageURI(ctx context.Context, id int64, online bool) (imgcache.URI, error)
}

type LibraryService interface {
	ListFolders(ctx context.Context) ([]models.Folder, error)
	CreateFolder(ctx context.Context, name string) (*models.Folder, error)
	RenameFolder(ctx context.Context, localID, newName string) error
	DeleteFolder(ctx context.Context, localID string) error

	ListImages(ctx context.Context, folderLocalID string) ([]models.Image, error)
	UploadImage(ctx context.Context, folderLocalID, sourceURI string) (*models.Image, error)
	RenameImage(ctx context.Context, localID, newFilename string) error
	DeleteImage(ctx context.Context, localID string) error
	ImageDisplayURI(ctx context.Context, localID string) (imgcache.URI, error)
}

const backgroundSyncTimeout = time.Minute

type libraryService struct {
	remote  RemoteLibrary
	db      *sql.DB
	folders folders.Repository
	images  images.Repository
	syncer  SyncTrigger
	conn    ConnectivitySource
	cache   ImageLocator
	log     logging.Logger
}

func NewLibraryService(remote RemoteLibrary, db *sql.DB, syncer SyncTrigger,
	conn ConnectivitySource, cache ImageLocator, log logging.Logger) LibraryService {
	return &libraryService{
		remote:  remote,
		db:      db,
		folders: folders.NewSQLiteRepository(db),
		images:  images.NewSQLiteRepository(db),
		syncer:  syncer,
		conn:    conn,
		cache:   cache,
		log:     log.With("component", "library"),
	}
}

// withTx runs a row mutation and its queue entry as one transaction, so a
// crash can never leave a local change without the queue entry that pushes
// it (or the other way round).
func (s *libraryService) withTx(ctx context.Context, fn func(f folders.Repository, i images.Repository, q queue.Repository) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(folders.NewSQLiteRepository(tx), images.NewSQLiteRepository(tx), queue.NewSQLiteRepository(tx))
	})
}

// validateName enforces the 1..255 character limit shared by folder names and
// image filenames.
func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 255 {
		return common.ErrInvalidName
	}
	return nil
}

// triggerSync kicks off a background cycle. The caller never waits on it and
// never sees its errors; the sync status stream carries the outcome.
func (s *libraryService) triggerSync(ctx context.Context) {
	if !s.conn.Online() {
		return
	}
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundSyncTimeout)
		defer cancel()
		if err := s.syncer.SyncAll(bctx); err != nil {
			s.log.Warn(bctx, "background sync failed", "error", err)
		}
	}()
}

// ListFolders returns the local folder list. When online it first refreshes
// the list from the server; a refresh failure degrades to local data.
func (s *libraryService) ListFolders(ctx context.Context) ([]models.Folder, error) {
	if s.conn.Online() {
		remote, err := s.remote.ListFolders(ctx)
		if err != nil {
			s.log.Warn(ctx, "folder refresh failed, serving local data", "error", err)
		} else {
			for _, rf := range remote {
				serverID := rf.FolderID
				err := s.folders.ImportFromServer(ctx, &models.Folder{
					ServerID:   &serverID,
					Name:       rf.FolderName,
					ImageCount: rf.ImageCount,
					CreatedAt:  rf.CreatedAt,
				})
				if err != nil {
					return nil, fmt.Errorf("import folder %d: %w", serverID, err)
				}
			}
		}
	}
	return s.folders.List(ctx)
}

func (s *libraryService) CreateFolder(ctx context.Context, name string) (*models.Folder, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	f := &models.Folder{
		LocalID:    uuid.NewString(),
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		SyncStatus: models.StatusPending,
	}
	err := s.withTx(ctx, func(fr folders.Repository, _ images.Repository, qr queue.Repository) error {
		if err := fr.Create(ctx, f); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpCreateFolder,
			EntityType: models.EntityFolder,
			LocalID:    f.LocalID,
			Payload:    models.CreateFolderPayload{Name: name},
			CreatedAt:  f.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.triggerSync(ctx)
	return f, nil
}

func (s *libraryService) RenameFolder(ctx context.Context, localID, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	err := s.withTx(ctx, func(fr folders.Repository, _ images.Repository, qr queue.Repository) error {
		if err := fr.Rename(ctx, localID, newName); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpRenameFolder,
			EntityType: models.EntityFolder,
			LocalID:    localID,
			Payload:    models.RenameFolderPayload{NewName: newName},
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.triggerSync(ctx)
	return nil
}

func (s *libraryService) DeleteFolder(ctx context.Context, localID string) error {
	err := s.withTx(ctx, func(fr folders.Repository, _ images.Repository, qr queue.Repository) error {
		if err := fr.SoftDelete(ctx, localID); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpDeleteFolder,
			EntityType: models.EntityFolder,
			LocalID:    localID,
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.triggerSync(ctx)
	return nil
}

// ListImages returns the local images of a folder, refreshed from the server
// first when online and the folder is known server-side.
func (s *libraryService) ListImages(ctx context.Context, folderLocalID string) ([]models.Image, error) {
	f, err := s.folders.GetByLocalID(ctx, folderLocalID)
	if err != nil {
		return nil, err
	}

	if s.conn.Online() && f.ServerID != nil {
		remote, err := s.remote.ListImages(ctx, *f.ServerID)
		if err != nil {
			s.log.Warn(ctx, "image refresh failed, serving local data", "folder_id", *f.ServerID, "error", err)
		} else {
			for _, ri := range remote {
				serverID := ri.ImageID
				folderServerID := *f.ServerID
				err := s.images.ImportFromServer(ctx, &models.Image{
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
					return nil, fmt.Errorf("import image %d: %w", serverID, err)
				}
			}
		}
	}

	return s.images.ListByFolder(ctx, folderLocalID)
}

// UploadImage registers a device-local file for upload. The bytes stay where
// they are; the queue entry carries the source path and the push phase reads
// it at drain time.
func (s *libraryService) UploadImage(ctx context.Context, folderLocalID, sourceURI string) (*models.Image, error) {
	f, err := s.folders.GetByLocalID(ctx, folderLocalID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("stat source image: %w", err)
	}

	filename := filepath.Base(sourceURI)
	if err := validateName(filename); err != nil {
		return nil, err
	}

	mt, err := mimetype.DetectFile(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("detect image type: %w", err)
	}

	img := &models.Image{
		LocalID:        uuid.NewString(),
		FolderLocalID:  folderLocalID,
		FolderServerID: f.ServerID,
		Filename:       filename,
		LocalURI:       sourceURI,
		FileSize:       info.Size(),
		MimeType:       mt.String(),
		UploadedAt:     time.Now().UTC(),
		SyncStatus:     models.StatusPending,
	}
	err = s.withTx(ctx, func(_ folders.Repository, ir images.Repository, qr queue.Repository) error {
		if err := ir.Create(ctx, img); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpUploadImage,
			EntityType: models.EntityImage,
			LocalID:    img.LocalID,
			Payload:    models.UploadImagePayload{SourceURI: sourceURI, Filename: filename, MimeType: img.MimeType},
			CreatedAt:  img.UploadedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.triggerSync(ctx)
	return img, nil
}

func (s *libraryService) RenameImage(ctx context.Context, localID, newFilename string) error {
	if err := validateName(newFilename); err != nil {
		return err
	}
	err := s.withTx(ctx, func(_ folders.Repository, ir images.Repository, qr queue.Repository) error {
		if err := ir.Rename(ctx, localID, newFilename); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpRenameImage,
			EntityType: models.EntityImage,
			LocalID:    localID,
			Payload:    models.RenameImagePayload{NewFilename: newFilename},
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.triggerSync(ctx)
	return nil
}

func (s *libraryService) DeleteImage(ctx context.Context, localID string) error {
	err := s.withTx(ctx, func(_ folders.Repository, ir images.Repository, qr queue.Repository) error {
		if err := ir.SoftDelete(ctx, localID); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpDeleteImage,
			EntityType: models.EntityImage,
			LocalID:    localID,
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.triggerSync(ctx)
	return nil
}

// ImageDisplayURI resolves where the UI should load image bytes from. An
// image that has not been uploaded yet is always served from its device-local
// source file.
func (s *libraryService) ImageDisplayURI(ctx context.Context, localID string) (imgcache.URI, error) {
	img, err := s.images.GetByLocalID(ctx, localID)
	if err != nil {
		return imgcache.URI{}, err
	}

	if img.ServerID == nil {
		return imgcache.URI{URI: img.LocalURI, IsLocal: true}, nil
	}
	return s.cache.ImageURI(ctx, *img.ServerID, s.conn.Online())
}
