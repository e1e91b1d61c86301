package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/model"
)

// TokenRepo implements RefreshTokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a refresh token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Create inserts a token hash.
func (r *TokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (token_hash, account_id, expires_at)
VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, t.TokenHash, t.AccountID, t.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Consume locks the row, checks it is live and marks it revoked in one transaction.
func (r *TokenRepo) Consume(ctx context.Context, hash []byte, now time.Time) (tok *model.RefreshToken, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT account_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash=$1 FOR UPDATE`
	const upd = `UPDATE refresh_tokens SET revoked_at=$2 WHERE token_hash=$1`

	t := model.RefreshToken{TokenHash: hash}
	if err = tx.QueryRow(ctx, sel, hash).Scan(&t.AccountID, &t.ExpiresAt, &t.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	if t.RevokedAt != nil || !now.Before(t.ExpiresAt) {
		return nil, errs.ErrUnauthorized
	}
	if _, err = tx.Exec(ctx, upd, hash, now); err != nil {
		return nil, err
	}
	t.RevokedAt = &now
	return &t, nil
}

// RevokeFamily revokes all outstanding tokens of the owner of hash.
func (r *TokenRepo) RevokeFamily(ctx context.Context, hash []byte, now time.Time) (uuid.UUID, int64, error) {
	const sel = `SELECT account_id FROM refresh_tokens WHERE token_hash=$1`
	const upd = `UPDATE refresh_tokens SET revoked_at=$2 WHERE account_id=$1 AND revoked_at IS NULL`

	var owner uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, sel, hash).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, 0, nil
		}
		return uuid.Nil, 0, err
	}
	tag, err := r.db.Pool.Exec(ctx, upd, owner, now)
	if err != nil {
		return owner, 0, err
	}
	return owner, tag.RowsAffected(), nil
}
