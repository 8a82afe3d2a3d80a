package models

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"
)

// Record is one user-generated entry (e.g. a food recognition event) kept
// in the local store.
type Record struct {
	// ID is a UUID generated at write time.
	ID string `json:"id"`

	// LocalID is generated independently at creation and never changes.
	// Format: local_<unix-millis>_<8 hex chars>.
	LocalID string `json:"localId"`

	// Fields is the caller's payload.
	Fields map[string]any `json:"fields"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Synced reports whether the remote store has acknowledged the record.
	Synced bool `json:"synced"`
}

// Clone returns a copy whose Fields map can be modified independently.
func (r Record) Clone() Record {
	r.Fields = maps.Clone(r.Fields)
	return r
}

// Matches reports whether id is the record's ID or LocalID.
func (r Record) Matches(id string) bool {
	return id != "" && (r.ID == id || r.LocalID == id)
}

// Payload is the representation sent to the remote store.
func (r Record) Payload() map[string]any {
	return map[string]any{
		PayloadRecordID: r.ID,
		PayloadLocalID:  r.LocalID,
		"fields":        maps.Clone(r.Fields),
		"createdAt":     r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":     r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// SameState reports whether payload, as built by Payload and possibly
// decoded from JSON since, still describes r: same updatedAt, same fields.
func (r Record) SameState(payload map[string]any) bool {
	cur := r.Payload()
	if cur["updatedAt"] != payload["updatedAt"] {
		return false
	}
	a, err := json.Marshal(cur["fields"])
	if err != nil {
		return false
	}
	b, err := json.Marshal(payload["fields"])
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
