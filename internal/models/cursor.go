package models

import "time"

// Cursor marks the position up to which a client has received changes.
// The zero value requests a full resync.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor requests a full resync.
func (c Cursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ID == ""
}

// Before reports whether c sorts strictly before o in (updatedAt, id) order.
func (c Cursor) Before(o Cursor) bool {
	if !c.UpdatedAt.Equal(o.UpdatedAt) {
		return c.UpdatedAt.Before(o.UpdatedAt)
	}
	return c.ID < o.ID
}

// Max returns the later of the two cursors.
func (c Cursor) Max(o Cursor) Cursor {
	if c.Before(o) {
		return o
	}
	return c
}
