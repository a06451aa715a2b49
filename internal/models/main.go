// Package models defines the core data structures for users and synced health records.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// User represents an application user mirrored from the identity provider.
type User struct {
	// ID is the stable internal identifier. All records are scoped by it.
	ID string `json:"id"`
	// ClerkID is the subject issued by the identity provider.
	ClerkID string `json:"clerkId"`
	// CreatedAt is when the user was first mirrored.
	CreatedAt time.Time `json:"createdAt"`
}

// State is the lifecycle state of a record.
type State int

const (
	// StateActive is a live record visible to user-facing queries.
	StateActive State = iota
	// StateDeleted is a tombstone kept for propagation until purged.
	StateDeleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateDeleted {
		return "deleted"
	}
	return "active"
}

// Ref identifies a record within a user's data set.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// Record is one row of any syncable entity together with its lifecycle metadata.
// The domain payload is kept as raw JSON and decoded per kind with DecodePayload.
type Record struct {
	// Kind selects the entity table the record lives in.
	Kind Kind
	// ID is globally unique and immutable once assigned.
	ID string
	// UserID is the owning user.
	UserID string
	// Data holds the JSON encoded payload for Kind.
	Data json.RawMessage
	// CreatedAt is set on first write and never changes.
	CreatedAt time.Time
	// UpdatedAt is the version marker used for conflict detection.
	UpdatedAt time.Time
	// SyncedAt is nil while the version is pending delivery to a participant.
	SyncedAt *time.Time
	// State is Active or Deleted.
	State State
}

// Ref returns the record's reference.
func (r Record) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.ID}
}

// IsDeleted reports whether the record is a tombstone.
func (r Record) IsDeleted() bool {
	return r.State == StateDeleted
}

// Position returns the record's key in change-log order.
func (r Record) Position() Cursor {
	return Cursor{UpdatedAt: r.UpdatedAt, ID: r.ID}
}

// Tombstone returns a deleted copy of the record stamped at the given time.
// SyncedAt is cleared so the deletion is redelivered to every participant.
func (r Record) Tombstone(at time.Time) Record {
	r.State = StateDeleted
	r.UpdatedAt = Stamp(at)
	r.SyncedAt = nil
	return r
}

// Validate checks the envelope and, for active records, the payload.
func (r Record) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: %s has no updatedAt", ErrInvalidRecord, r.Ref())
	}
	if r.IsDeleted() && len(r.Data) == 0 {
		return nil
	}
	p, err := DecodePayload(r.Kind, r.Data)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.Ref(), err)
	}
	return nil
}

// Stamp normalizes a timestamp to the precision stored by Postgres.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// recordJSON is the wire form of Record.
type recordJSON struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	SyncedAt  *time.Time      `json:"syncedAt"`
	IsDeleted bool            `json:"isDeleted"`
}

// MarshalJSON encodes the record with an isDeleted flag.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Kind:      r.Kind,
		ID:        r.ID,
		UserID:    r.UserID,
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		SyncedAt:  r.SyncedAt,
		IsDeleted: r.IsDeleted(),
	})
}

// UnmarshalJSON decodes the wire form.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w recordJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Record{
		Kind:      w.Kind,
		ID:        w.ID,
		UserID:    w.UserID,
		Data:      w.Data,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		SyncedAt:  w.SyncedAt,
	}
	if w.IsDeleted {
		r.State = StateDeleted
	}
	return nil
}
