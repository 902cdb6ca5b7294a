// Package common defines shared constants and sentinel errors used across the
// sync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync-engine flow control.
	ErrOffline         = errors.New("device is offline")
	ErrFolderNotSynced = errors.New("folder has no server id yet")
	ErrImageNotSynced  = errors.New("image has no server id yet")

	// Image byte cache: requested image is neither cached nor reachable.
	// Distinct from a transport error on purpose; callers render an
	// "unavailable offline" state instead of a failure.
	ErrNotCached = errors.New("image not cached")

	// Validation.
	ErrInvalidName = errors.New("name must be between 1 and 255 characters")
)

// MaxRetryCount is the number of unsuccessful drain attempts after which a
// queue entry (and its owning entity) is marked failed permanently.
const MaxRetryCount = 3
