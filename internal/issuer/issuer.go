// Package issuer defines the collaborator that issues and refreshes sessions.
package issuer

import (
	"context"

	"github.com/shopease/sessionkeeper/internal/model"
)

// Issuer exchanges login input or a refresh token for credentials.
type Issuer interface {
	// Issue performs a login and returns fresh credentials and the user's profile.
	Issue(ctx context.Context, method model.AuthMethod, data model.LoginData) (model.Credentials, model.Profile, error)
	// Refresh exchanges a refresh token for rotated credentials.
	Refresh(ctx context.Context, refreshToken string) (model.Credentials, error)
}

// Revoker is implemented by issuers that can invalidate a refresh token server-side.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}
