package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// GetOrCreate upserts on (method, subject) and returns the stored row.
func (r *AccountRepo) GetOrCreate(ctx context.Context, a *model.Account) (*model.Account, error) {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		a.ID = id
	}
	const q = `
INSERT INTO accounts (id, method, subject, email, phone, name)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (method, subject) DO UPDATE SET
  email = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
  phone = COALESCE(NULLIF(EXCLUDED.phone, ''), accounts.phone),
  name  = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name)
RETURNING id, method, subject, email, phone, name, created_at`
	row := r.db.Pool.QueryRow(ctx, q, a.ID, string(a.Method), a.Subject, a.Email, a.Phone, a.Name)
	return scanAccount(row)
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `
SELECT id, method, subject, email, phone, name, created_at
FROM accounts WHERE id=$1`
	acc, err := scanAccount(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return acc, err
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a      model.Account
		method string
	)
	if err := row.Scan(&a.ID, &method, &a.Subject, &a.Email, &a.Phone, &a.Name, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Method = model.AuthMethod(method)
	return &a, nil
}
