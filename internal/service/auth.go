// Package service provides the sync engine: the change log, the sync
// coordinator, the soft-delete propagator and user registration,
// delegating persistence to repositories.
package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/HealthSync/internal/models"
)

// UserRepository defines the persistence operations
// required by the user service.
type UserRepository interface {
	// FindByClerkID returns the user mirrored for the given identity
	// provider subject, or models.ErrNotFound.
	FindByClerkID(ctx context.Context, clerkID string) (*models.User, error)
	// RegisterUser mirrors the subject into the users table. Registering
	// the same subject twice returns the existing user.
	RegisterUser(ctx context.Context, clerkID string) (*models.User, error)
}

// UserService implements user operations by delegating
// to a UserRepository.
type UserService struct {
	// repo performs the data-layer operations.
	repo UserRepository
}

// NewUserService constructs a new UserService using the provided repository.
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// FindByClerkID resolves an identity provider subject to the internal user.
func (s *UserService) FindByClerkID(ctx context.Context, clerkID string) (*models.User, error) {
	return s.repo.FindByClerkID(ctx, clerkID)
}

// RegisterUser mirrors the identity provider subject into the users table.
// It is idempotent.
func (s *UserService) RegisterUser(ctx context.Context, clerkID string) (*models.User, error) {
	if clerkID == "" {
		return nil, fmt.Errorf("register user: %w", models.ErrInvalidRecord)
	}
	return s.repo.RegisterUser(ctx, clerkID)
}
