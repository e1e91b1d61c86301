// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/shopease/sessionkeeper/internal/model"
)

// AccountRepository stores issuer accounts keyed by (method, subject).
type AccountRepository interface {
	// GetOrCreate returns the account for (a.Method, a.Subject), inserting a when absent.
	// Non-empty contact fields of a overwrite stored ones.
	GetOrCreate(ctx context.Context, a *model.Account) (*model.Account, error)
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
}
