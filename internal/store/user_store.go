package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/peerhub/internal/models"
)

// Errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserStore manages user accounts.
type UserStore interface {
	// Create stores a new user. Returns ErrUserAlreadyExists if the email is taken.
	Create(ctx context.Context, user *models.User) error

	// Get retrieves a non-deleted user by ID.
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a non-deleted user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Delete soft-deletes a user.
	Delete(ctx context.Context, userID uuid.UUID) error
}
