package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/dbx"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/google/uuid"
)

const selectColumns = `id, email, google_sub, password_hash, name, picture, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO accounts (id, email, google_sub, password_hash, name, picture)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		a.ID, a.Email, a.GoogleSub, a.PasswordHash, a.Name, a.Picture).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}

	return a, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByGoogleSub(ctx context.Context, sub string) (*models.Account, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM accounts WHERE google_sub = $1`, sub)
}

// Update writes the profile columns of a (email, name, picture). Credential
// columns are only changed through SetPasswordHash, AddPassword and
// LinkGoogle so that a stale copy can never undo a concurrent credential
// change.
func (r *PostgresRepository) Update(ctx context.Context, a *models.Account) (*models.Account, error) {
	query :=
		`UPDATE accounts
		 SET email = $2, name = $3, picture = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + selectColumns

	return r.writeOne(ctx, query, a.ID, a.Email, a.Name, a.Picture)
}

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, id, hash string) (*models.Account, error) {
	query :=
		`UPDATE accounts
		 SET password_hash = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + selectColumns

	return r.writeOne(ctx, query, id, hash)
}

// AddPassword sets the first password of an account that has none, and the
// name when one is given. An account that already has a password is
// ErrorNotFound.
func (r *PostgresRepository) AddPassword(ctx context.Context, id, hash string, name *string) (*models.Account, error) {
	query :=
		`UPDATE accounts
		 SET password_hash = $2, name = COALESCE($3, name), updated_at = now()
		 WHERE id = $1 AND (password_hash IS NULL OR password_hash = '')
		 RETURNING ` + selectColumns

	return r.writeOne(ctx, query, id, hash, name)
}

// LinkGoogle binds sub to the account and refreshes the email. Name and
// picture are only replaced by non-nil values. An account linked to a
// different subject is ErrorNotFound.
func (r *PostgresRepository) LinkGoogle(ctx context.Context, id, sub, email string, name, picture *string) (*models.Account, error) {
	query :=
		`UPDATE accounts
		 SET google_sub = $2, email = $3, name = COALESCE($4, name), picture = COALESCE($5, picture), updated_at = now()
		 WHERE id = $1 AND (google_sub IS NULL OR google_sub = $2)
		 RETURNING ` + selectColumns

	return r.writeOne(ctx, query, id, sub, email, name, picture)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) writeOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, mapWriteError(err)
	}
	return a, nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Email, &a.GoogleSub, &a.PasswordHash, &a.Name, &a.Picture, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func mapWriteError(err error) error {
	if dbx.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", common.ErrorAlreadyExists, err)
	}
	return fmt.Errorf("db error: %w", err)
}
