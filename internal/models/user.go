package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered member of the network.
// PasswordHash never leaves the server; it is excluded from JSON encoding.
type User struct {
	ID           uuid.UUID `json:"_id"` // UUIDv7
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Bio          string    `json:"bio,omitempty"`
	ProfilePic   string    `json:"profilePic,omitempty"` // avatar URL in the object store
	Location     string    `json:"location,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"` // soft delete, deleted accounts can no longer authenticate
}

// IsDeleted returns true if the account has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Public returns a copy of the user with the password hash removed.
func (u *User) Public() *User {
	clone := *u
	clone.PasswordHash = ""
	return &clone
}
