package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureUser creates the user identified by u.ExternalID or refreshes its
// last_seen and any non-empty profile fields. It returns the stored row.
func (s *Store) EnsureUser(ctx context.Context, u User) (User, error) {
	if u.ExternalID == "" {
		return User{}, fmt.Errorf("store: ensure user: empty external id")
	}
	now := time.Now().UnixNano()

	var created, seen int64
	err := s.db.QueryRowContext(ctx, s.q(`
INSERT INTO users (external_id, username, first_name, last_name, created_at, last_seen)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (external_id) DO UPDATE SET
    last_seen  = excluded.last_seen,
    username   = COALESCE(NULLIF(excluded.username, ''), users.username),
    first_name = COALESCE(NULLIF(excluded.first_name, ''), users.first_name),
    last_name  = COALESCE(NULLIF(excluded.last_name, ''), users.last_name)
RETURNING id, username, first_name, last_name, created_at, last_seen`),
		u.ExternalID, u.Username, u.FirstName, u.LastName, now, now,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &created, &seen)
	if err != nil {
		return User{}, fmt.Errorf("store: ensure user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created)
	u.LastSeen = time.Unix(0, seen)
	return u, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u             User
		created, seen int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
SELECT id, external_id, username, first_name, last_name, created_at, last_seen
FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &created, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("store: user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created)
	u.LastSeen = time.Unix(0, seen)
	return u, nil
}

// CreateOperator inserts a new operator. A duplicate email yields ErrConflict.
func (s *Store) CreateOperator(ctx context.Context, email string, role Role) (Operator, error) {
	if !role.Valid() {
		return Operator{}, fmt.Errorf("store: create operator: invalid role %q", role)
	}
	op := Operator{Email: email, Role: role, Active: true, CreatedAt: time.Now()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM operators WHERE email = ?`), email).Scan(&n); err != nil {
			return fmt.Errorf("store: create operator: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("store: operator %q: %w", email, ErrConflict)
		}
		err := tx.QueryRowContext(ctx, s.q(`
INSERT INTO operators (email, role, active, created_at) VALUES (?, ?, 1, ?) RETURNING id`),
			email, string(role), op.CreatedAt.UnixNano()).Scan(&op.ID)
		if err != nil {
			return fmt.Errorf("store: create operator: %w", err)
		}
		return nil
	})
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

// GetOperator returns the operator with the given id.
func (s *Store) GetOperator(ctx context.Context, id int64) (Operator, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, email, role, active, created_at FROM operators WHERE id = ?`), id)
	op, err := scanOperator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, fmt.Errorf("store: operator %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Operator{}, fmt.Errorf("store: get operator: %w", err)
	}
	return op, nil
}

// ListOperators returns all operators ordered by id.
func (s *Store) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, role, active, created_at FROM operators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list operators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan operator: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperator(r rowScanner) (Operator, error) {
	var (
		op      Operator
		role    string
		active  int
		created int64
	)
	if err := r.Scan(&op.ID, &op.Email, &role, &active, &created); err != nil {
		return Operator{}, err
	}
	op.Role = Role(role)
	op.Active = active != 0
	op.CreatedAt = time.Unix(0, created)
	return op, nil
}
