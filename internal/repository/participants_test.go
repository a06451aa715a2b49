package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/lib/pq"
)

func TestTouchParticipant_StoresCursor(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sync_participants`)).
		WithArgs("u1", "phone", t1, "w1", t1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TouchParticipant(context.Background(), "u1", "phone", models.Cursor{UpdatedAt: t1, ID: "w1"}, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTouchParticipant_ZeroCursorIsNull(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sync_participants`)).
		WithArgs("u1", "tablet", nil, "", t1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.TouchParticipant(context.Background(), "u1", "tablet", models.Cursor{}, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPurgeHorizon(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT purged_through, purged_id FROM purge_horizons WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"purged_through", "purged_id"}).AddRow(t1, "g7"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT purged_through, purged_id FROM purge_horizons`)).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"purged_through", "purged_id"}))

	got, err := repo.PurgeHorizon(context.Background(), "u1")
	if err != nil || !got.UpdatedAt.Equal(t1) || got.ID != "g7" {
		t.Errorf("PurgeHorizon(u1) = %v, %v; want %v|g7", got, err, t1)
	}
	got, err = repo.PurgeHorizon(context.Background(), "u2")
	if err != nil || !got.IsZero() {
		t.Errorf("PurgeHorizon(u2) = %v, %v; want zero", got, err)
	}
}

func TestPurgeStatement_ComparesFullKey(t *testing.T) {
	for _, fragment := range []string{
		"(p.cursor_at, p.cursor_id) < (t.updated_at, t.id)",
		"RETURNING t.user_id, t.updated_at, t.id",
		"ORDER BY user_id, updated_at DESC, id DESC",
		"(purge_horizons.purged_through, purge_horizons.purged_id)",
	} {
		if !strings.Contains(purgeStatement, fragment) {
			t.Errorf("purge statement lacks %q", fragment)
		}
	}
}

func TestPurgeAcknowledged_SumsEveryTable(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	before := t1
	mock.ExpectBegin()
	for i, k := range models.Kinds {
		mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf(`DELETE FROM %s AS t`, k.Table()))).
			WithArgs(before).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(i % 2)))
	}
	mock.ExpectCommit()

	n, err := repo.PurgeAcknowledged(context.Background(), before)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := int64(len(models.Kinds) / 2); n != want {
		t.Errorf("purged = %d; want %d", n, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPurgeAcknowledged_RollsBackOnError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM workouts AS t`)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := repo.PurgeAcknowledged(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("wrapped: %w", driver.ErrBadConn), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"serialization", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"no rows", sql.ErrNoRows, false},
		{"not found", models.ErrNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v; want %v", tc.err, got, tc.want)
			}
		})
	}
}
