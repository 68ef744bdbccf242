package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	MaxTitleLength       = 120
	MaxDescriptionLength = 2000

	msgTodoNotFound = "Todo not found"
)

// TodoUpdate carries the fields of a partial update. DescriptionSet
// distinguishes "clear the description" (set, nil) from "leave it" (unset).
type TodoUpdate struct {
	Title          *string
	Description    *string
	DescriptionSet bool
	Done           *bool
}

// TodoService manages the todo items of one account at a time. Items of
// other accounts are reported as not found.
type TodoService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewTodoService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *TodoService {
	return &TodoService{db: db, repomanager: m, logger: logger.With("module", "todos")}
}

// List returns open items first, newest first within each group.
func (s *TodoService) List(ctx context.Context, accountID string) ([]*models.Todo, error) {
	items, err := s.repomanager.Todos(s.db).ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing todos: %w", err)
	}
	return items, nil
}

func (s *TodoService) Create(ctx context.Context, accountID, title string, description *string) (*models.Todo, error) {
	t, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	var d *string
	if description != nil {
		if d, err = normalizeDescription(*description); err != nil {
			return nil, err
		}
	}

	todo, err := s.repomanager.Todos(s.db).Create(ctx, &models.Todo{AccountID: accountID, Title: t, Description: d})
	if err != nil {
		return nil, fmt.Errorf("error creating todo: %w", err)
	}
	return todo, nil
}

func (s *TodoService) Update(ctx context.Context, accountID, id string, in TodoUpdate) (*models.Todo, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	var patch models.TodoPatch
	if in.Title != nil {
		t, err := normalizeTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &t
	}
	if in.DescriptionSet {
		if in.Description == nil {
			patch.ClearDescription = true
		} else {
			d, err := normalizeDescription(*in.Description)
			if err != nil {
				return nil, err
			}
			patch.Description = d
			patch.ClearDescription = d == nil
		}
	}
	patch.Done = in.Done

	if patch.Title == nil && !in.DescriptionSet && patch.Done == nil {
		return nil, common.Validation("No fields to update")
	}

	todo, err := s.repomanager.Todos(s.db).Update(ctx, accountID, id, patch)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound(msgTodoNotFound)
		}
		return nil, fmt.Errorf("error updating todo: %w", err)
	}
	return todo, nil
}

func (s *TodoService) Delete(ctx context.Context, accountID, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := s.repomanager.Todos(s.db).Delete(ctx, accountID, id); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound(msgTodoNotFound)
		}
		return fmt.Errorf("error deleting todo: %w", err)
	}
	return nil
}

// DeleteAll removes every item of the account and reports how many.
func (s *TodoService) DeleteAll(ctx context.Context, accountID string) (int64, error) {
	n, err := s.repomanager.Todos(s.db).DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("error deleting todos: %w", err)
	}
	s.logger.Info(ctx, "todos cleared", "account_id", accountID, "deleted", n)
	return n, nil
}

func normalizeTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", common.Validation("title is required")
	}
	if length(t) > MaxTitleLength {
		return "", common.Validation("title is too long (max 120)")
	}
	return t, nil
}

func normalizeDescription(desc string) (*string, error) {
	d := optional(desc)
	if d != nil && length(*d) > MaxDescriptionLength {
		return nil, common.Validation("description is too long (max 2000)")
	}
	return d, nil
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", common.Validation("id is required")
	}
	// ids are uuids in the store; anything else cannot match an item
	if _, err := uuid.Parse(id); err != nil {
		return "", common.NotFound(msgTodoNotFound)
	}
	return id, nil
}
