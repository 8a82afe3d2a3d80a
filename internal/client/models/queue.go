package models

import (
	"maps"
	"time"
)

// Payload keys identifying the record a mutation applies to.
const (
	PayloadRecordID = "id"
	PayloadLocalID  = "localId"
)

// Operation is the kind of mutation queued for the remote store.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationAdd, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncStatus is the lifecycle state of a queued item.
// Transitions are monotonic: pending -> synced | failed.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s SyncStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// SyncQueueItem is a mutation waiting to be applied remotely.
type SyncQueueItem struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Operation  Operation      `json:"operation"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	RetryCount int            `json:"retryCount"`
	Status     SyncStatus     `json:"status"`
	LastError  string         `json:"lastError,omitempty"`
	SyncedAt   *time.Time     `json:"syncedAt,omitempty"`

	// RetryOf links an item re-queued by an explicit retry to the failed
	// item it replaces.
	RetryOf string `json:"retryOf,omitempty"`
}

// Clone returns a copy that shares no mutable state with i.
func (i SyncQueueItem) Clone() SyncQueueItem {
	i.Payload = maps.Clone(i.Payload)
	if i.SyncedAt != nil {
		t := *i.SyncedAt
		i.SyncedAt = &t
	}
	return i
}

// Mutation is what the remote reconciler is asked to apply.
func (i SyncQueueItem) Mutation() Mutation {
	return Mutation{
		ItemID:     i.ID,
		Collection: i.Collection,
		Operation:  i.Operation,
		Payload:    maps.Clone(i.Payload),
	}
}

// Mutation is the unit of work handed to a remote reconciler. ItemID is
// stable across retries so the remote side can apply it idempotently.
type Mutation struct {
	ItemID     string
	Collection string
	Operation  Operation
	Payload    map[string]any
}

// RecordID returns the identifier of the affected record: the payload "id",
// falling back to "localId".
func (m Mutation) RecordID() string {
	for _, k := range []string{PayloadRecordID, PayloadLocalID} {
		if s, ok := m.Payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// QueueStats summarizes the outbox by status.
type QueueStats struct {
	Pending int
	Synced  int
	Failed  int
}

// Total is the number of items currently held.
func (s QueueStats) Total() int {
	return s.Pending + s.Synced + s.Failed
}
