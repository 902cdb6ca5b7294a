// Package models defines the client-side records persisted in the local
// store: folders, images, cached analysis results and durable sync-queue
// entries.
package models

import "time"

// SyncStatus reflects how far a local record has progressed toward the
// server. A record with a server id is considered to exist server-side.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Folder is a locally known image folder. LocalID is client-generated and
// stable; ServerID stays nil until the create operation has been pushed.
type Folder struct {
	LocalID    string
	ServerID   *int64
	Name       string
	ImageCount int64 // advisory mirror of the remote count
	CreatedAt  time.Time
	SyncStatus SyncStatus
	LastSyncAt *time.Time
	Deleted    bool
}
