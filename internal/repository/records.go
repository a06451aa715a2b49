// Package repository provides the Postgres-backed entity store used by the
// sync engine. Every query is scoped by user_id.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/lib/pq"
)

const recordColumns = `id, user_id, data, created_at, updated_at, synced_at, is_deleted`

// changesQuery reads one keyset page across every record table.
var changesQuery = buildChangesQuery()

func buildChangesQuery() string {
	parts := make([]string, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		parts = append(parts, fmt.Sprintf(
			`SELECT '%s' AS kind, %s FROM %s WHERE user_id = $1 AND (updated_at, id) > ($2, $3)`,
			k, recordColumns, k.Table()))
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY updated_at, id\nLIMIT $4"
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads recordColumns, preceded by any extra destinations.
func scanRecord(row scanner, extra ...any) (models.Record, error) {
	var (
		rec      models.Record
		data     []byte
		syncedAt sql.NullTime
		deleted  bool
	)
	dest := append(extra, &rec.ID, &rec.UserID, &data, &rec.CreatedAt, &rec.UpdatedAt, &syncedAt, &deleted)
	if err := row.Scan(dest...); err != nil {
		return models.Record{}, err
	}
	rec.Data = data
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if syncedAt.Valid {
		t := syncedAt.Time.UTC()
		rec.SyncedAt = &t
	}
	if deleted {
		rec.State = models.StateDeleted
	}
	return rec, nil
}

func dataOrEmpty(r models.Record) []byte {
	if len(r.Data) == 0 {
		return []byte("{}")
	}
	return r.Data
}

// PostgresRecordRepository stores syncable records, one table per kind.
type PostgresRecordRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresRecordRepository creates a PostgresRecordRepository using the provided *sql.DB.
func NewPostgresRecordRepository(db *sql.DB) *PostgresRecordRepository {
	return &PostgresRecordRepository{DB: db}
}

// Get fetches a single record, tombstones included.
// It returns models.ErrNotFound when the record does not exist for userID.
func (r *PostgresRecordRepository) Get(ctx context.Context, userID string, ref models.Ref) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`, recordColumns, ref.Kind.Table())
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, ref.ID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", ref, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	rec.Kind = ref.Kind
	return &rec, nil
}

// Insert writes a record that the server has not seen before.
// If a row with the same id already exists, for this or any other user,
// models.ErrConcurrentModification is returned and the caller must re-read.
func (r *PostgresRecordRepository) Insert(ctx context.Context, rec models.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (id) DO NOTHING
	`, rec.Kind.Table(), recordColumns)
	res, err := r.DB.ExecContext(ctx, query,
		rec.ID, rec.UserID, dataOrEmpty(rec), rec.CreatedAt, rec.UpdatedAt, rec.IsDeleted())
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.Ref(), err)
	}
	return expectOneRow(res, rec.Ref())
}

// CompareAndSwap replaces the stored version of rec only if its updated_at
// still equals expected. SyncedAt is cleared so the new version is delivered
// to every participant. A lost race yields models.ErrConcurrentModification.
func (r *PostgresRecordRepository) CompareAndSwap(ctx context.Context, rec models.Record, expected time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		   SET data = $3, updated_at = $4, synced_at = NULL, is_deleted = $5
		 WHERE id = $1 AND user_id = $2 AND updated_at = $6
	`, rec.Kind.Table())
	res, err := r.DB.ExecContext(ctx, query,
		rec.ID, rec.UserID, dataOrEmpty(rec), rec.UpdatedAt, rec.IsDeleted(), expected)
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Ref(), err)
	}
	return expectOneRow(res, rec.Ref())
}

func expectOneRow(res sql.Result, ref models.Ref) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected %s: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("write %s: %w", ref, models.ErrConcurrentModification)
	}
	return nil
}

// ChangesPage returns up to limit records of userID positioned strictly after
// the cursor, ordered by (updated_at, id) across all kinds.
func (r *PostgresRecordRepository) ChangesPage(ctx context.Context, userID string, after models.Cursor, limit int) ([]models.Record, error) {
	rows, err := r.DB.QueryContext(ctx, changesQuery, userID, after.UpdatedAt.UTC(), after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("ChangesPage: %w", err)
	}
	defer rows.Close()

	records := make([]models.Record, 0, limit)
	for rows.Next() {
		var kind string
		rec, err := scanRecord(rows, &kind)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Kind = models.Kind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ChangesPage rows: %w", err)
	}
	return records, nil
}

// MarkSynced sets synced_at on the delivered versions. A row whose
// updated_at moved since delivery keeps synced_at NULL.
func (r *PostgresRecordRepository) MarkSynced(ctx context.Context, userID string, delivered []models.Record, at time.Time) error {
	if len(delivered) == 0 {
		return nil
	}

	byKind := make(map[models.Kind][]models.Record)
	for _, rec := range delivered {
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, k := range models.Kinds {
		recs := byKind[k]
		if len(recs) == 0 {
			continue
		}
		ids := make([]string, len(recs))
		versions := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
			versions[i] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		query := fmt.Sprintf(`
			UPDATE %s AS t
			   SET synced_at = $1
			  FROM unnest($3::text[], $4::timestamptz[]) AS v(id, updated_at)
			 WHERE t.user_id = $2 AND t.id = v.id AND t.updated_at = v.updated_at
		`, k.Table())
		if _, err := tx.ExecContext(ctx, query, at, userID, pq.Array(ids), pq.Array(versions)); err != nil {
			return fmt.Errorf("mark synced %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
