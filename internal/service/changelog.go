package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/persistence"
)

// ChangeReader is the read side of the record store used by the change log.
type ChangeReader interface {
	// ChangesPage returns up to limit records positioned after the cursor,
	// ordered by (updatedAt, id) across every kind.
	ChangesPage(ctx context.Context, userID string, after models.Cursor, limit int) ([]models.Record, error)
	// PurgeHorizon returns the position of the latest purged tombstone.
	PurgeHorizon(ctx context.Context, userID string) (models.Cursor, error)
}

// ChangeLog extracts the records a client has not received yet.
type ChangeLog struct {
	repo     ChangeReader
	pageSize int
}

// NewChangeLog constructs a ChangeLog reading pageSize rows per query.
func NewChangeLog(repo ChangeReader, pageSize int) *ChangeLog {
	if pageSize <= 0 {
		pageSize = Options{}.withDefaults().PageSize
	}
	return &ChangeLog{repo: repo, pageSize: pageSize}
}

// Open decodes a client's cursor token and verifies that no history the
// client still needs has been purged. The empty token means full resync and
// is always accepted.
func (c *ChangeLog) Open(ctx context.Context, userID, token string) (models.Cursor, error) {
	cursor, err := persistence.DecodeCursor(token)
	if err != nil {
		return models.Cursor{}, err
	}
	if cursor.IsZero() {
		return cursor, nil
	}

	horizon, err := c.repo.PurgeHorizon(ctx, userID)
	if err != nil {
		return models.Cursor{}, err
	}
	if cursor.Before(horizon) {
		return models.Cursor{}, fmt.Errorf("%w: cursor %s|%s is older than purge horizon %s|%s",
			models.ErrStaleCursor,
			cursor.UpdatedAt.Format(time.RFC3339Nano), cursor.ID,
			horizon.UpdatedAt.Format(time.RFC3339Nano), horizon.ID)
	}
	return cursor, nil
}

// Changes lazily yields every record of userID positioned after from, in
// ascending (updatedAt, id) order. Iteration can stop at any point and be
// restarted later from the last yielded record's Position.
func (c *ChangeLog) Changes(ctx context.Context, userID string, from models.Cursor) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		pos := from
		for {
			page, err := c.repo.ChangesPage(ctx, userID, pos, c.pageSize)
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				pos = rec.Position()
			}
			if len(page) < c.pageSize {
				return
			}
		}
	}
}

// Collect reads at most limit records after from. hasMore reports whether
// the change log holds further records.
func (c *ChangeLog) Collect(ctx context.Context, userID string, from models.Cursor, limit int) ([]models.Record, bool, error) {
	out := make([]models.Record, 0, min(limit, c.pageSize))
	for rec, err := range c.Changes(ctx, userID, from) {
		if err != nil {
			return nil, false, err
		}
		if len(out) == limit {
			return out, true, nil
		}
		out = append(out, rec)
	}
	return out, false, nil
}
