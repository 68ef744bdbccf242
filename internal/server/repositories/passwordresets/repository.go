// Package passwordresets persists one-time password reset codes.
package passwordresets

import (
	"context"

	"github.com/dmitrijs2005/todokeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, reset *models.PasswordReset) error
	// FindLatestUnused returns the newest unspent reset of the account whose
	// code hash matches, or common.ErrorNotFound.
	FindLatestUnused(ctx context.Context, accountID, codeHash string) (*models.PasswordReset, error)
	DeleteUnusedForAccount(ctx context.Context, accountID string) (int64, error)
	// MarkUsed spends the reset. It returns common.ErrorNotFound when the
	// reset does not exist or was already spent.
	MarkUsed(ctx context.Context, id string) error
}
