package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/shopease/sessionkeeper/internal/model"
)

// RefreshTokenRepository stores refresh token hashes.
type RefreshTokenRepository interface {
	// Create inserts a new outstanding token.
	Create(ctx context.Context, t *model.RefreshToken) error
	// Consume atomically revokes an outstanding, unexpired token and returns it.
	// Unknown, revoked or expired tokens yield errs.ErrUnauthorized.
	Consume(ctx context.Context, hash []byte, now time.Time) (*model.RefreshToken, error)
	// RevokeFamily revokes every outstanding token of the account owning hash.
	// It returns the owning account (uuid.Nil when hash is unknown) and the number revoked.
	RevokeFamily(ctx context.Context, hash []byte, now time.Time) (uuid.UUID, int64, error)
}
