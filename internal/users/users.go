// Package users defines the users resource served once the database is
// bootstrapped: the User record, the storage contract, and the typed errors
// the HTTP layer maps to response codes.
package users

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no user exists for the requested id.
var ErrNotFound = errors.New("user does not exist")

// ErrDuplicateEmail is returned when a create collides with the unique
// constraint on email.
var ErrDuplicateEmail = errors.New("email already exists")

// User is one row of the users table the init scripts create.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Active   bool   `json:"active"`
}

// Store is the persistence contract for the users resource. Satisfied by
// *database.UserStore.
type Store interface {
	Create(ctx context.Context, username, email string) (*User, error)
	ByID(ctx context.Context, id int64) (*User, error)
	All(ctx context.Context) ([]User, error)
}
