// Package todos persists per-account todo items.
package todos

import (
	"context"

	"github.com/dmitrijs2005/todokeeper/internal/server/models"
)

// Repository scopes every call by account id; an item owned by another
// account behaves exactly like a missing one.
type Repository interface {
	Create(ctx context.Context, todo *models.Todo) (*models.Todo, error)
	Get(ctx context.Context, accountID, id string) (*models.Todo, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.Todo, error)
	Update(ctx context.Context, accountID, id string, patch models.TodoPatch) (*models.Todo, error)
	Delete(ctx context.Context, accountID, id string) error
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)
}
