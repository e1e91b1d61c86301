// Package sqlite implements securestore.Store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/securestore"
	"github.com/shopease/sessionkeeper/internal/securestore/sqlite/migrations"
)

// Store keeps slots in the secure_items table.
type Store struct {
	db *sql.DB
}

var _ securestore.Store = (*Store)(nil)

// Open creates (0700 dir) or opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer: keeps single-key access serialised
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate secure store: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secure_items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secure item[%s]: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts ...securestore.SetOption) error {
	o := securestore.Apply(opts...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secure_items (key, value, require_auth, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, require_auth = excluded.require_auth, updated_at = CURRENT_TIMESTAMP
	`, key, value, o.RequireAuth)
	if err != nil {
		return fmt.Errorf("failed to set secure item[%s]: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secure_items WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete secure item[%s]: %w", key, err)
	}
	return nil
}

// RequiresAuth reports whether key was written with securestore.RequireAuth.
func (s *Store) RequiresAuth(ctx context.Context, key string) (bool, error) {
	var gated bool
	err := s.db.QueryRowContext(ctx, `SELECT require_auth FROM secure_items WHERE key = ?`, key).Scan(&gated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errs.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read secure item[%s]: %w", key, err)
	}
	return gated, nil
}
