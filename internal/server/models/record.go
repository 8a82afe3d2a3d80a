// Package models holds the server-side persistence types.
package models

import "time"

// SyncedRecord is the reconciled state of one client record. Deletes are
// kept as tombstones so a replayed delete stays a no-op.
type SyncedRecord struct {
	Collection string
	RecordID   string
	Payload    map[string]any
	Deleted    bool
	LastItemID string
	UpdatedAt  time.Time
}

// AppliedItem records that a queue item was applied once, whatever has
// happened to its record since.
type AppliedItem struct {
	ItemID     string
	ClientID   string
	Collection string
	RecordID   string
	Operation  string
	AppliedAt  time.Time
}
