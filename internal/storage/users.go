package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// User is a registered account. The password hash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	AvatarURL    string    `json:"avatar_url"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts a new user with a server-assigned UUID. Returns
// ErrEmailTaken if the email is already registered.
func (s *Store) CreateUser(ctx context.Context, email, fullName, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
	}

	const query = `
		INSERT INTO users (id, email, full_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, u.ID, u.Email, u.FullName, u.PasswordHash).
		Scan(&u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks a user up by email. Returns ErrUserNotFound if no
// account exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, full_name, password_hash, avatar_url, created_at
		FROM users WHERE email = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

// GetUserByID looks a user up by ID. Returns ErrUserNotFound if no account
// exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, full_name, password_hash, avatar_url, created_at
		FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// ListUsersExcluding returns every user except selfID, ordered by name. This
// backs the client's contact sidebar.
func (s *Store) ListUsersExcluding(ctx context.Context, selfID string) ([]User, error) {
	const query = `
		SELECT id, email, full_name, password_hash, avatar_url, created_at
		FROM users WHERE id <> $1
		ORDER BY full_name, id`

	rows, err := s.db.QueryContext(ctx, query, selfID)
	if err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	return users, nil
}

// UpdateAvatar replaces the user's avatar URL.
func (s *Store) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar_url = $2 WHERE id = $1`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("storage: update avatar: %w", err)
	}
	return checkAffected(res)
}

// UpdatePassword replaces the user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("storage: update password: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan user: %w", err)
	}
	return &u, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
