package models

import "time"

// Image is a locally known microscope image. FolderServerID is resolved
// lazily: an image enqueued into a not-yet-synced folder carries nil until
// the folder's own create operation succeeds.
type Image struct {
	LocalID        string
	ServerID       *int64
	FolderLocalID  string
	FolderServerID *int64
	Filename       string
	LocalURI       string // device-local source for not-yet-uploaded bytes
	CachedFilePath *string
	FileSize       int64
	MimeType       string
	HasAnalysis    bool
	UploadedAt     time.Time
	SyncStatus     SyncStatus
	LastSyncAt     *time.Time
	Deleted        bool
}
