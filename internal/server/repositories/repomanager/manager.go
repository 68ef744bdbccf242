package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/todokeeper/internal/dbx"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/todos"
)

// RepositoryManager vends repositories bound to a DBTX, which is either the
// pool or an open transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	PasswordResets(db dbx.DBTX) passwordresets.Repository
	Todos(db dbx.DBTX) todos.Repository
}
