package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/dbx"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/config"
	"github.com/dmitrijs2005/todokeeper/internal/server/mail"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/todokeeper/internal/server/resetcodes"
)

const msgInvalidCode = "Invalid code"

// PasswordResetService runs the e-mailed one-time code flow. At most one
// unused code exists per account.
type PasswordResetService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      passwords.Hasher
	mailer      mail.Dispatcher
	fromName    string
	metrics     *metrics.Metrics
	logger      logging.Logger

	now          func() time.Time
	generateCode func() (string, error)
}

func NewPasswordResetService(db *sql.DB, m repomanager.RepositoryManager, hasher passwords.Hasher,
	mailer mail.Dispatcher, fromName string, mt *metrics.Metrics, logger logging.Logger) *PasswordResetService {
	return &PasswordResetService{
		db:           db,
		repomanager:  m,
		hasher:       hasher,
		mailer:       mailer,
		fromName:     fromName,
		metrics:      mt,
		logger:       logger.With("module", "password_reset"),
		now:          time.Now,
		generateCode: resetcodes.Generate,
	}
}

// RequestReset e-mails a fresh code to a password-capable account. Unknown
// emails and Google-only accounts get the same silent success. Storage and
// delivery failures for a real account are returned.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.PasswordReset("request", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return common.Validation("email is required")
	}

	account, err := s.repomanager.Accounts(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Debug(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("error searching account: %w", err)
	}
	if account.IsFederatedOnly() {
		s.logger.Debug(ctx, "password reset requested for google-only account", "account_id", account.ID)
		return nil
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("error generating code: %w", err)
	}
	reset := &models.PasswordReset{
		AccountID: account.ID,
		CodeHash:  resetcodes.Hash(code),
		ExpiresAt: s.now().Add(config.PasswordResetTTL),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.PasswordResets(tx)
		if _, err := repo.DeleteUnusedForAccount(ctx, account.ID); err != nil {
			return fmt.Errorf("error deleting previous codes: %w", err)
		}
		if err := repo.Create(ctx, reset); err != nil {
			return fmt.Errorf("error storing code: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg := mail.PasswordResetMessage(account.Email, code)
	msg.FromName = s.fromName
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error(ctx, "password reset e-mail failed", "account_id", account.ID, "error", err)
		return fmt.Errorf("error sending code: %w", err)
	}

	s.logger.Info(ctx, "password reset code sent", "account_id", account.ID)
	return nil
}

// ConfirmReset sets a new password when code matches the newest unused,
// unexpired code of the account. The password update and spending the code
// commit together; a concurrent confirm of the same code loses with
// "Invalid code".
func (s *PasswordResetService) ConfirmReset(ctx context.Context, email, code, newPassword string) (err error) {
	defer func() { s.metrics.PasswordReset("confirm", err) }()

	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" {
		return common.Validation("email is required")
	}
	if code == "" {
		return common.Validation("code is required")
	}
	if err := checkNewPassword(newPassword, "newPassword must be at least 6 chars", "newPassword must be at most 72 bytes"); err != nil {
		return err
	}

	account, err := s.repomanager.Accounts(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.Validation(msgInvalidCode)
		}
		return fmt.Errorf("error searching account: %w", err)
	}
	if account.IsFederatedOnly() {
		return common.Forbidden("Google account cannot reset password")
	}

	reset, err := s.repomanager.PasswordResets(s.db).FindLatestUnused(ctx, account.ID, resetcodes.Hash(code))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.Validation(msgInvalidCode)
		}
		return fmt.Errorf("error searching code: %w", err)
	}
	if reset.Expired(s.now()) {
		return common.Validation("Code expired")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.PasswordResets(tx).MarkUsed(ctx, reset.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.Validation(msgInvalidCode)
			}
			return fmt.Errorf("error spending code: %w", err)
		}
		if _, err := s.repomanager.Accounts(tx).SetPasswordHash(ctx, account.ID, hash); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.Validation(msgInvalidCode)
			}
			return fmt.Errorf("error updating password: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "password reset completed", "account_id", account.ID)
	return nil
}
