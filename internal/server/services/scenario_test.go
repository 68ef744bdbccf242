package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
)

func TestScenario_RegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.accounts.Register(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	login, err := f.accounts.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, login.Account.ID)

	claims, err := f.issuer.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, claims.AccountID())
	assert.Equal(t, "a@x.com", claims.Email)
}

func TestScenario_PasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accounts.Register(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, f.resets.RequestReset(ctx, "a@x.com"))
	code := f.mailer.lastCode(t)
	require.NoError(t, f.resets.ConfirmReset(ctx, "a@x.com", code, "newpass1"))

	_, err = f.accounts.Login(ctx, "a@x.com", "newpass1")
	assert.NoError(t, err)

	_, err = f.accounts.Login(ctx, "a@x.com", "secret1")
	assert.ErrorIs(t, err, common.ErrAuth)
}

// The same flow with the real bcrypt hasher, to make sure nothing depends on
// the fake's hash format.
func TestScenario_WithBcrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rm := &fakeRepoManager{f.store}
	hasher := passwords.NewBcryptHasher(4)
	accounts := NewAccountService(f.db, rm, hasher, f.issuer, f.google, nil, logging.Nop())
	resets := NewPasswordResetService(f.db, rm, hasher, f.mailer, "ToDo Premium", nil, logging.Nop())

	reg, err := accounts.Register(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	assert.NotContains(t, *f.account(t, reg.Account.ID).PasswordHash, "secret1")

	require.NoError(t, resets.RequestReset(ctx, "a@x.com"))
	require.NoError(t, resets.ConfirmReset(ctx, "a@x.com", f.mailer.lastCode(t), "newpass1"))

	_, err = accounts.Login(ctx, "a@x.com", "newpass1")
	assert.NoError(t, err)
	_, err = accounts.Login(ctx, "a@x.com", "secret1")
	assert.Equal(t, "Invalid credentials", err.Error())
}

func TestScenario_LongPasswordsWithBcrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rm := &fakeRepoManager{f.store}
	hasher := passwords.NewBcryptHasher(4)
	accounts := NewAccountService(f.db, rm, hasher, f.issuer, f.google, nil, logging.Nop())
	resets := NewPasswordResetService(f.db, rm, hasher, f.mailer, "ToDo Premium", nil, logging.Nop())
	profile := NewProfileService(f.db, rm, hasher, f.issuer, &fakePresigner{enabled: true}, nil, logging.Nop())
	long := strings.Repeat("p", 80)

	_, err := accounts.Register(ctx, "a@x.com", long, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	reg, err := accounts.Register(ctx, "a@x.com", strings.Repeat("p", 72), "")
	require.NoError(t, err)

	err = profile.ChangePassword(ctx, reg.Account.ID, strings.Repeat("p", 72), long)
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, resets.RequestReset(ctx, "a@x.com"))
	err = resets.ConfirmReset(ctx, "a@x.com", f.mailer.lastCode(t), long)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, "newPassword must be at most 72 bytes", err.Error())
}

func TestScenario_ResetResponsesDoNotRevealAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.accounts.Register(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	existing := f.resets.RequestReset(ctx, "a@x.com")
	missing := f.resets.RequestReset(ctx, "nobody@x.com")
	assert.Equal(t, existing, missing)
	assert.NoError(t, existing)
}
