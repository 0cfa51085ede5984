package users

import (
	"time"

	"github.com/forgeline/forgeline/internal/shared"
)

// User is a buyer or back-office account. Identity and credentials live with
// the identity provider; the engine keeps the attributes that drive pricing
// and privileges.
type User struct {
	ID        int64           `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Type      shared.UserType `json:"type"`
	Role      shared.Role     `json:"role"`
	Validated bool            `json:"validated"`
	Version   int64           `json:"version"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateInput registers an account.
type CreateInput struct {
	Email string          `json:"email" validate:"required,email,max=255"`
	Name  string          `json:"name" validate:"required,max=200"`
	Type  shared.UserType `json:"type" validate:"required,oneof=INDIVIDUAL BUSINESS"`
	Role  shared.Role     `json:"role" validate:"required,oneof=CUSTOMER ADMIN STAFF"`
}

// UpdateProfileInput changes descriptive and tier attributes.
type UpdateProfileInput struct {
	ID      int64           `json:"-" validate:"required,gt=0"`
	Version int64           `json:"version" validate:"required,gt=0"`
	Name    string          `json:"name" validate:"required,max=200"`
	Type    shared.UserType `json:"type" validate:"required,oneof=INDIVIDUAL BUSINESS"`
	Role    shared.Role     `json:"role" validate:"required,oneof=CUSTOMER ADMIN STAFF"`
}

// SetValidatedInput toggles the ordering gate.
type SetValidatedInput struct {
	ID        int64 `json:"-" validate:"required,gt=0"`
	Version   int64 `json:"version" validate:"required,gt=0"`
	Validated bool  `json:"validated"`
}

// VersionedRef addresses one revision of a user for delete and restore.
type VersionedRef struct {
	ID      int64 `json:"-" validate:"required,gt=0"`
	Version int64 `json:"version" validate:"required,gt=0"`
}
