// Package accounts persists Account records.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/todokeeper/internal/server/models"
)

// Repository is the account part of the credential store. Lookups return
// common.ErrorNotFound when nothing matches; writes that collide with the
// email or Google subject uniqueness constraints return
// common.ErrorAlreadyExists.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByGoogleSub(ctx context.Context, sub string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) (*models.Account, error)
	SetPasswordHash(ctx context.Context, id, hash string) (*models.Account, error)
	AddPassword(ctx context.Context, id, hash string, name *string) (*models.Account, error)
	LinkGoogle(ctx context.Context, id, sub, email string, name, picture *string) (*models.Account, error)
	Delete(ctx context.Context, id string) error
}
