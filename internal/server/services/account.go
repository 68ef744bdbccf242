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
	"github.com/dmitrijs2005/todokeeper/internal/server/federated"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/repomanager"
)

const (
	msgInvalidCredentials  = "Invalid credentials"
	msgNoLocalPassword     = "This account has no local password"
	msgEmailLinkedToGoogle = "Email already linked to another Google account"
)

// AccountService resolves credentials to accounts: local registration and
// login, Google login with account linking, and bearer token verification.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      passwords.Hasher
	issuer      *auth.Issuer
	google      federated.Verifier
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, hasher passwords.Hasher,
	issuer *auth.Issuer, google federated.Verifier, mt *metrics.Metrics, logger logging.Logger) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		google:      google,
		metrics:     mt,
		logger:      logger.With("module", "accounts"),
	}
}

// Register creates a local account, or adds a password to an existing
// account that only had Google login.
func (s *AccountService) Register(ctx context.Context, email, password, name string) (sess *Session, err error) {
	defer func() { s.metrics.Registration(err) }()

	email = normalizeEmail(email)
	if email == "" {
		return nil, common.Validation("Missing email")
	}
	if err := checkNewPassword(password, "Password must be at least 6 characters", "Password must be at most 72 bytes"); err != nil {
		return nil, err
	}
	displayName := optional(name)

	repo := s.repomanager.Accounts(s.db)

	existing, err := repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error searching account: %w", err)
	}
	if existing != nil && existing.HasPassword() {
		return nil, common.Conflict("Email already registered")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	var account *models.Account
	if existing != nil {
		account, err = repo.AddPassword(ctx, existing.ID, hash, displayName)
		if err != nil {
			// a concurrent registration set the password first, or the
			// account is gone
			if errors.Is(err, common.ErrorNotFound) {
				return nil, common.Conflict("Email already registered")
			}
			return nil, fmt.Errorf("error upgrading account: %w", err)
		}
		s.logger.Info(ctx, "local password added to federated account", "account_id", account.ID)
	} else {
		account, err = repo.Create(ctx, &models.Account{Email: email, PasswordHash: &hash, Name: displayName})
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return nil, common.Conflict("Email already registered")
			}
			return nil, fmt.Errorf("error creating account: %w", err)
		}
		s.logger.Info(ctx, "account registered", "account_id", account.ID)
	}

	return s.newSession(account, "register")
}

// Login checks a local password. Unknown emails and wrong passwords yield
// the same error.
func (s *AccountService) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { s.metrics.Login("password", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return nil, common.Validation("Missing email")
	}
	if password == "" {
		return nil, common.Validation("Missing password")
	}

	account, err := s.repomanager.Accounts(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.Auth(msgInvalidCredentials)
		}
		return nil, fmt.Errorf("error searching account: %w", err)
	}
	if !account.HasPassword() {
		return nil, common.Auth(msgNoLocalPassword)
	}
	if !s.hasher.Verify(*account.PasswordHash, password) {
		return nil, common.Auth(msgInvalidCredentials)
	}

	return s.newSession(account, "login")
}

// GoogleLogin verifies a Google ID token and resolves it to an account. The
// subject wins over the email: a known subject refreshes its account, an
// unlinked account with the same email gets linked, an email linked to a
// different subject is a conflict, and otherwise a new account is created.
func (s *AccountService) GoogleLogin(ctx context.Context, idToken string) (sess *Session, err error) {
	defer func() { s.metrics.Login("google", err) }()

	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, common.Auth("Missing idToken")
	}
	if s.google == nil {
		s.logger.Warn(ctx, "google login attempted without a verifier")
		return nil, common.Auth("Invalid or expired Google ID token")
	}

	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.logger.Warn(ctx, "google id token rejected", "error", err)
		return nil, common.Auth("Invalid or expired Google ID token")
	}

	account, err := s.resolveGoogleIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.newSession(account, "google")
}

func (s *AccountService) resolveGoogleIdentity(ctx context.Context, id *federated.Identity) (*models.Account, error) {
	repo := s.repomanager.Accounts(s.db)
	name := optional(id.Name)
	picture := optional(id.Picture)

	bySub, err := repo.GetByGoogleSub(ctx, id.Subject)
	switch {
	case err == nil:
		account, err := repo.LinkGoogle(ctx, bySub.ID, id.Subject, id.Email, name, picture)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrorAlreadyExists):
				return nil, common.Conflict("Email already in use")
			case errors.Is(err, common.ErrorNotFound):
				return nil, common.Conflict(msgEmailLinkedToGoogle)
			}
			return nil, fmt.Errorf("error refreshing account: %w", err)
		}
		return account, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("error searching account: %w", err)
	}

	byEmail, err := repo.GetByEmail(ctx, id.Email)
	switch {
	case err == nil && byEmail.IsFederated():
		return nil, common.Conflict(msgEmailLinkedToGoogle)
	case err == nil:
		// LinkGoogle refuses the row if another subject was linked meanwhile
		account, err := repo.LinkGoogle(ctx, byEmail.ID, id.Subject, id.Email, name, picture)
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) || errors.Is(err, common.ErrorNotFound) {
				return nil, common.Conflict(msgEmailLinkedToGoogle)
			}
			return nil, fmt.Errorf("error linking account: %w", err)
		}
		s.logger.Info(ctx, "google identity linked to account", "account_id", account.ID)
		return account, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("error searching account: %w", err)
	}

	sub := id.Subject
	account, err := repo.Create(ctx, &models.Account{Email: id.Email, GoogleSub: &sub, Name: name, Picture: picture})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.Conflict(msgEmailLinkedToGoogle)
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	s.logger.Info(ctx, "account created from google identity", "account_id", account.ID)
	return account, nil
}

// Authenticate verifies a bearer token and returns its claims.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, common.Auth("Missing Bearer token")
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		s.logger.Debug(ctx, "bearer token rejected", "error", err)
		return nil, common.Auth("Invalid or expired token")
	}
	return claims, nil
}

func (s *AccountService) newSession(account *models.Account, flow string) (*Session, error) {
	token, err := s.issuer.Issue(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("error issuing token: %w", err)
	}
	s.metrics.TokenIssued(flow)
	return &Session{Token: token, Account: account}, nil
}
