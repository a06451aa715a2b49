// Package repository provides persistence for users mirrored from the identity provider.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/google/uuid"
)

// PostgresUserRepository stores users keyed by an internal id and their Clerk id.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresUserRepository creates a new PostgresUserRepository with the given database connection.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

// FindByClerkID returns the user mirrored for clerkID, or models.ErrNotFound.
func (s *PostgresUserRepository) FindByClerkID(ctx context.Context, clerkID string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(
		ctx,
		`SELECT id, clerk_id, created_at FROM users WHERE clerk_id = $1`,
		clerkID,
	).Scan(&u.ID, &u.ClerkID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", clerkID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FindByClerkID: %w", err)
	}
	return &u, nil
}

// RegisterUser mirrors clerkID into the users table with a fresh internal id.
// If the user already exists, the ON CONFLICT DO NOTHING clause keeps the
// original id and the stored user is returned.
func (s *PostgresUserRepository) RegisterUser(ctx context.Context, clerkID string) (*models.User, error) {
	_, err := s.DB.ExecContext(
		ctx,
		`INSERT INTO users (id, clerk_id) VALUES ($1, $2) ON CONFLICT (clerk_id) DO NOTHING`,
		uuid.NewString(), clerkID,
	)
	if err != nil {
		return nil, fmt.Errorf("RegisterUser: %w", err)
	}
	return s.FindByClerkID(ctx, clerkID)
}
