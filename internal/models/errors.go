package models

import "errors"

var (
	// ErrInvalidCursor is returned when a cursor token does not parse.
	// Clients recover by falling back to a full resync.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrStaleCursor is returned when tombstones the client still needs were purged.
	ErrStaleCursor = errors.New("stale cursor")
	// ErrNotFound is returned when a record does not exist or belongs to another user.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentModification is returned when a compare-and-swap write lost the race.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrSyncFailed is returned when transient failures exhausted the retry budget.
	ErrSyncFailed = errors.New("sync failed")
	// ErrInvalidRecord is returned for malformed records or payloads.
	ErrInvalidRecord = errors.New("invalid record")
)
