package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
)

// TouchParticipant records the cursor a client device acknowledged and when
// it was last seen. Purging uses it to know which tombstones every device has received.
func (r *PostgresRecordRepository) TouchParticipant(ctx context.Context, userID, clientID string, cursor models.Cursor, seen time.Time) error {
	var cursorAt sql.NullTime
	if !cursor.IsZero() {
		cursorAt = sql.NullTime{Time: cursor.UpdatedAt, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_participants (user_id, client_id, cursor_at, cursor_id, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			cursor_at = EXCLUDED.cursor_at,
			cursor_id = EXCLUDED.cursor_id,
			last_seen_at = EXCLUDED.last_seen_at
	`, userID, clientID, cursorAt, cursor.ID, seen)
	if err != nil {
		return fmt.Errorf("TouchParticipant: %w", err)
	}
	return nil
}

// PurgeHorizon returns the change-log key of the latest tombstone purged
// for userID, or the zero cursor if nothing was ever purged.
func (r *PostgresRecordRepository) PurgeHorizon(ctx context.Context, userID string) (models.Cursor, error) {
	var horizon models.Cursor
	err := r.DB.QueryRowContext(ctx, `
		SELECT purged_through, purged_id FROM purge_horizons WHERE user_id = $1
	`, userID).Scan(&horizon.UpdatedAt, &horizon.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cursor{}, nil
	}
	if err != nil {
		return models.Cursor{}, fmt.Errorf("PurgeHorizon: %w", err)
	}
	horizon.UpdatedAt = horizon.UpdatedAt.UTC()
	return horizon, nil
}

// purgeStatement removes acknowledged tombstones from one table and raises
// the purge horizon of every affected user. Participants not seen since
// the cutoff do not hold tombstones back; they will get a stale cursor.
// Cursors and horizons compare on the full (updated_at, id) key.
const purgeStatement = `
	WITH purged AS (
		DELETE FROM %s AS t
		 WHERE t.is_deleted
		   AND t.synced_at IS NOT NULL
		   AND t.synced_at < $1
		   AND NOT EXISTS (
				SELECT 1 FROM sync_participants p
				 WHERE p.user_id = t.user_id
				   AND p.last_seen_at >= $1
				   AND p.cursor_at IS NOT NULL
				   AND (p.cursor_at, p.cursor_id) < (t.updated_at, t.id)
		   )
		RETURNING t.user_id, t.updated_at, t.id
	), horizon AS (
		INSERT INTO purge_horizons (user_id, purged_through, purged_id)
		SELECT DISTINCT ON (user_id) user_id, updated_at, id
		  FROM purged
		 ORDER BY user_id, updated_at DESC, id DESC
		ON CONFLICT (user_id) DO UPDATE
			SET purged_through = EXCLUDED.purged_through,
			    purged_id = EXCLUDED.purged_id
		  WHERE (purge_horizons.purged_through, purge_horizons.purged_id)
		      < (EXCLUDED.purged_through, EXCLUDED.purged_id)
		RETURNING 1
	)
	SELECT count(*) FROM purged
`

// PurgeAcknowledged physically deletes tombstones acknowledged before the
// given time by all live participants. It returns the number of rows removed.
func (r *PostgresRecordRepository) PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, k := range models.Kinds {
		var n int64
		if err := tx.QueryRowContext(ctx, fmt.Sprintf(purgeStatement, k.Table()), before).Scan(&n); err != nil {
			return 0, fmt.Errorf("purge %s: %w", k, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}
