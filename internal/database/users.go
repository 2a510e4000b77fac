package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/swisswing/microservice-users/internal/users"
)

// Postgres error code for a unique constraint violation.
const uniqueViolation = "23505"

// UserStore implements users.Store on the Client's shared pool. It serves the
// users table the init scripts create.
type UserStore struct {
	c *Client
}

// NewUserStore returns a UserStore backed by c.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{c: c}
}

// Create inserts a new user and returns it with its assigned id. A collision
// on the email unique constraint maps to users.ErrDuplicateEmail.
func (s *UserStore) Create(ctx context.Context, username, email string) (*users.User, error) {
	pool, err := s.c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	u := users.User{Username: username, Email: email, Active: true}
	row := pool.QueryRow(ctx,
		`INSERT INTO users (username, email, active) VALUES ($1, $2, $3) RETURNING id`,
		username, email, u.Active,
	)
	if err := row.Scan(&u.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, users.ErrDuplicateEmail
		}
		return nil, err
	}
	return &u, nil
}

// ByID fetches one user, or users.ErrNotFound when the id is unknown.
func (s *UserStore) ByID(ctx context.Context, id int64) (*users.User, error) {
	pool, err := s.c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	var u users.User
	row := pool.QueryRow(ctx,
		`SELECT id, username, email, active FROM users WHERE id = $1`, id,
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// All returns every user ordered by id. An empty table yields an empty,
// non-nil slice.
func (s *UserStore) All(ctx context.Context) ([]users.User, error) {
	pool, err := s.c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, username, email, active FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []users.User{}
	for rows.Next() {
		var u users.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Active); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}
