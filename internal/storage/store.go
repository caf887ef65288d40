// Package storage provides PostgreSQL-backed persistence for users, messages,
// and moderation flags. It is the durability boundary of the system: once a
// write here succeeds the record exists regardless of what happens to any
// live connection afterwards.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Sentinel errors returned by store lookups.
var (
	ErrUserNotFound = errors.New("storage: user not found")
	ErrEmailTaken   = errors.New("storage: email already registered")
)

// Store manages all PostgreSQL access.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given config, verifies the connection,
// and runs any pending schema migrations.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle without running migrations.
// Intended for tests that manage their own schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
