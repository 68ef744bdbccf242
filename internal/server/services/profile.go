package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/auth"
	"github.com/dmitrijs2005/todokeeper/internal/server/avatars"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/repomanager"
)

const msgUserNotFound = "User not found"

// AvatarPresigner issues upload targets for profile pictures.
type AvatarPresigner interface {
	Enabled() bool
	PresignUpload(ctx context.Context, accountID string) (*avatars.Upload, error)
}

// ProfileService mutates the signed-in account. Email and password changes
// are limited to accounts without a Google link and always re-check the
// current password.
type ProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      passwords.Hasher
	issuer      *auth.Issuer
	avatars     AvatarPresigner
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewProfileService(db *sql.DB, m repomanager.RepositoryManager, hasher passwords.Hasher,
	issuer *auth.Issuer, presigner AvatarPresigner, mt *metrics.Metrics, logger logging.Logger) *ProfileService {
	return &ProfileService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		avatars:     presigner,
		metrics:     mt,
		logger:      logger.With("module", "profile"),
	}
}

func (s *ProfileService) GetProfile(ctx context.Context, accountID string) (*models.Account, error) {
	return s.load(ctx, accountID)
}

// UpdateProfile changes the name and picture. A nil argument keeps the
// stored value; a blank one clears it.
func (s *ProfileService) UpdateProfile(ctx context.Context, accountID string, name, picture *string) (*models.Account, error) {
	if name != nil {
		v := strings.TrimSpace(*name)
		if length(v) > MaxNameLength {
			return nil, common.Validation("name too long")
		}
	}
	if picture != nil {
		v := strings.TrimSpace(*picture)
		if length(v) > MaxPictureLength {
			return nil, common.Validation("picture too long")
		}
	}
	if name == nil && picture == nil {
		return nil, common.Validation("No fields to update")
	}

	account, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if name != nil {
		account.Name = optional(*name)
	}
	if picture != nil {
		account.Picture = optional(*picture)
	}
	return s.save(ctx, account)
}

// ChangeEmail moves a local account to a new address and returns a session
// carrying the new email. Previously issued tokens stay valid until expiry.
func (s *ProfileService) ChangeEmail(ctx context.Context, accountID, newEmail, password string) (*Session, error) {
	newEmail = normalizeEmail(newEmail)
	if newEmail == "" {
		return nil, common.Validation("newEmail is required")
	}
	if password == "" {
		return nil, common.Validation("password is required")
	}

	account, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsFederated() {
		return nil, common.Forbidden("Google account cannot change email")
	}
	if err := s.checkPassword(account, password); err != nil {
		return nil, err
	}

	repo := s.repomanager.Accounts(s.db)
	other, err := repo.GetByEmail(ctx, newEmail)
	switch {
	case err == nil && other.ID != account.ID:
		return nil, common.Conflict("Email already in use")
	case err != nil && !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("error searching account: %w", err)
	}

	account.Email = newEmail
	account, err = s.save(ctx, account)
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("error issuing token: %w", err)
	}
	s.metrics.TokenIssued("email_change")
	s.logger.Info(ctx, "account email changed", "account_id", account.ID)
	return &Session{Token: token, Account: account}, nil
}

func (s *ProfileService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return common.Validation("currentPassword is required")
	}
	if err := checkNewPassword(newPassword, "newPassword must be at least 6 chars", "newPassword must be at most 72 bytes"); err != nil {
		return err
	}

	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	if account.IsFederated() {
		return common.Forbidden("Google account cannot change password")
	}
	if err := s.checkPassword(account, currentPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if _, err := s.repomanager.Accounts(s.db).SetPasswordHash(ctx, account.ID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound(msgUserNotFound)
		}
		return fmt.Errorf("error updating password: %w", err)
	}
	s.logger.Info(ctx, "account password changed", "account_id", account.ID)
	return nil
}

// DeleteAccount removes the account and, through the store's cascades, its
// reset codes and todos. An account with a password must confirm it.
func (s *ProfileService) DeleteAccount(ctx context.Context, accountID, password string) error {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	if account.HasPassword() {
		if password == "" {
			return common.Validation("password is required")
		}
		if err := s.checkPassword(account, password); err != nil {
			return err
		}
	}

	if err := s.repomanager.Accounts(s.db).Delete(ctx, account.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound(msgUserNotFound)
		}
		return fmt.Errorf("error deleting account: %w", err)
	}
	s.logger.Info(ctx, "account deleted", "account_id", account.ID)
	return nil
}

// AvatarUploadURL returns a presigned upload target. The caller stores the
// returned picture URL through UpdateProfile once the upload succeeded.
func (s *ProfileService) AvatarUploadURL(ctx context.Context, accountID string) (*avatars.Upload, error) {
	if s.avatars == nil || !s.avatars.Enabled() {
		return nil, common.Forbidden("Avatar uploads are disabled")
	}
	if _, err := s.load(ctx, accountID); err != nil {
		return nil, err
	}
	upload, err := s.avatars.PresignUpload(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error presigning avatar upload: %w", err)
	}
	return upload, nil
}

func (s *ProfileService) load(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound(msgUserNotFound)
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	return account, nil
}

func (s *ProfileService) save(ctx context.Context, account *models.Account) (*models.Account, error) {
	updated, err := s.repomanager.Accounts(s.db).Update(ctx, account)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return nil, common.NotFound(msgUserNotFound)
		case errors.Is(err, common.ErrorAlreadyExists):
			return nil, common.Conflict("Email already in use")
		}
		return nil, fmt.Errorf("error updating account: %w", err)
	}
	return updated, nil
}

func (s *ProfileService) checkPassword(account *models.Account, password string) error {
	if !account.HasPassword() {
		return common.Auth(msgNoLocalPassword)
	}
	if !s.hasher.Verify(*account.PasswordHash, password) {
		return common.Auth(msgInvalidCredentials)
	}
	return nil
}
