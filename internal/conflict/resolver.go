// Package conflict decides which version of a record survives when it was
// changed both on a client and on the server.
//
// The policy is last-write-wins on UpdatedAt with the server as tie-break
// authority. A tombstone beats an edit unless the edit is strictly later,
// in which case the record is resurrected. Records are replaced whole;
// fields are never merged.
package conflict

import (
	"bytes"
	"errors"

	"github.com/atinyakov/HealthSync/internal/models"
)

// ErrMismatch is returned when the two versions do not describe the same record.
var ErrMismatch = errors.New("conflict: versions describe different records")

// Target is a set of copies that must be overwritten with the winner.
type Target uint8

const (
	// TargetLocal means the client's copy must be replaced.
	TargetLocal Target = 1 << iota
	// TargetRemote means the server's copy must be replaced.
	TargetRemote
)

const (
	// TargetNone means both copies already agree.
	TargetNone Target = 0
	// TargetBoth means neither copy matches the winner.
	TargetBoth = TargetLocal | TargetRemote
)

// Has reports whether t includes o.
func (t Target) Has(o Target) bool {
	return t&o == o && o != TargetNone
}

// String implements fmt.Stringer.
func (t Target) String() string {
	switch t {
	case TargetNone:
		return "none"
	case TargetLocal:
		return "local"
	case TargetRemote:
		return "remote"
	case TargetBoth:
		return "both"
	}
	return "unknown"
}

// Side names where a version came from.
type Side string

const (
	SideLocal  Side = "local"
	SideServer Side = "server"
)

// Reason explains a resolution in logs and metrics.
type Reason string

const (
	ReasonNew         Reason = "new"
	ReasonNewer       Reason = "newer"
	ReasonTie         Reason = "tie"
	ReasonDeleteWins  Reason = "delete_wins"
	ReasonResurrected Reason = "resurrected"
	ReasonIdentical   Reason = "identical"
)

// Resolution is the outcome of resolving one record.
type Resolution struct {
	// Winner is the surviving version.
	Winner models.Record
	// WinnerSide tells which input Winner was taken from.
	WinnerSide Side
	// Overwrite lists the copies that must be replaced with Winner.
	Overwrite Target
	// Reason is the rule that decided the outcome.
	Reason Reason
}

// Resolve picks the surviving version of a record. server is nil when the
// server has never seen the record.
func Resolve(local models.Record, server *models.Record) (Resolution, error) {
	if server == nil {
		return Resolution{Winner: local, WinnerSide: SideLocal, Overwrite: TargetRemote, Reason: ReasonNew}, nil
	}
	if local.ID != server.ID || local.Kind != server.Kind {
		return Resolution{}, ErrMismatch
	}
	if local.UserID != "" && local.UserID != server.UserID {
		return Resolution{}, ErrMismatch
	}

	if sameVersion(local, *server) {
		return Resolution{Winner: *server, WinnerSide: SideServer, Overwrite: TargetNone, Reason: ReasonIdentical}, nil
	}

	localWins, reason := decide(local, *server)
	if !localWins {
		return Resolution{Winner: *server, WinnerSide: SideServer, Overwrite: TargetLocal, Reason: reason}, nil
	}

	winner := local
	winner.UserID = server.UserID
	overwrite := TargetRemote
	if !local.CreatedAt.Equal(server.CreatedAt) {
		// createdAt is immutable, so the client copy has to pick up the server's.
		winner.CreatedAt = server.CreatedAt
		overwrite = TargetBoth
	}
	return Resolution{Winner: winner, WinnerSide: SideLocal, Overwrite: overwrite, Reason: reason}, nil
}

// decide reports whether the local version wins and why.
func decide(local, server models.Record) (bool, Reason) {
	lt, st := local.UpdatedAt, server.UpdatedAt

	switch {
	case local.IsDeleted() && !server.IsDeleted():
		if st.After(lt) {
			return false, ReasonResurrected
		}
		return true, ReasonDeleteWins
	case server.IsDeleted() && !local.IsDeleted():
		if lt.After(st) {
			return true, ReasonResurrected
		}
		return false, ReasonDeleteWins
	}

	if lt.After(st) {
		return true, ReasonNewer
	}
	if lt.Equal(st) {
		return false, ReasonTie
	}
	return false, ReasonNewer
}

func sameVersion(a, b models.Record) bool {
	return a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.State == b.State &&
		bytes.Equal(a.Data, b.Data)
}
