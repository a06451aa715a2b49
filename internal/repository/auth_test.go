package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/atinyakov/HealthSync/internal/models"
)

func setupUserMock(t *testing.T) (*PostgresUserRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresUserRepository(db)
	cleanup := func() { db.Close() }
	return repo, mock, cleanup
}

func TestFindByClerkID_Found(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, clerk_id, created_at FROM users WHERE clerk_id = $1`)).
		WithArgs("user_2abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "clerk_id", "created_at"}).
			AddRow("u-1", "user_2abc", created))

	u, err := repo.FindByClerkID(context.Background(), "user_2abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "u-1" || u.ClerkID != "user_2abc" {
		t.Errorf("got wrong user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFindByClerkID_NotFound(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, clerk_id, created_at FROM users`)).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "clerk_id", "created_at"}))

	_, err := repo.FindByClerkID(context.Background(), "nobody")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterUser_InsertsAndReadsBack(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id, clerk_id) VALUES ($1, $2) ON CONFLICT (clerk_id) DO NOTHING`)).
		WithArgs(sqlmock.AnyArg(), "user_2abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, clerk_id, created_at FROM users`)).
		WithArgs("user_2abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "clerk_id", "created_at"}).
			AddRow("u-1", "user_2abc", time.Now()))

	u, err := repo.RegisterUser(context.Background(), "user_2abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "u-1" {
		t.Errorf("expected id u-1, got %q", u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRegisterUser_Error(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(sqlmock.AnyArg(), "x").
		WillReturnError(errors.New("insert fail"))

	if _, err := repo.RegisterUser(context.Background(), "x"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
