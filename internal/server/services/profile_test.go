package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/server/federated"
)

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	acc := f.seedLocal(t, "a@x.com", "secret1")

	got, err := f.profile.GetProfile(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = f.profile.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "User not found", err.Error())
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("sets and clears fields", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")

		got, err := f.profile.UpdateProfile(ctx, acc.ID, strPtr("  Ann "), strPtr("https://p/1"))
		require.NoError(t, err)
		assert.Equal(t, "Ann", *got.Name)
		assert.Equal(t, "https://p/1", *got.Picture)

		got, err = f.profile.UpdateProfile(ctx, acc.ID, strPtr("  "), nil)
		require.NoError(t, err)
		assert.Nil(t, got.Name)
		assert.Equal(t, "https://p/1", *got.Picture)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")

		_, err := f.profile.UpdateProfile(ctx, acc.ID, nil, nil)
		assert.Equal(t, "No fields to update", err.Error())

		_, err = f.profile.UpdateProfile(ctx, acc.ID, strPtr(strings.Repeat("n", 121)), nil)
		assert.Equal(t, "name too long", err.Error())

		_, err = f.profile.UpdateProfile(ctx, acc.ID, nil, strPtr(strings.Repeat("p", 2001)))
		assert.Equal(t, "picture too long", err.Error())

		_, err = f.profile.UpdateProfile(ctx, acc.ID, strPtr(strings.Repeat("é", 120)), nil)
		assert.NoError(t, err)
	})

	t.Run("google accounts can edit their profile", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedGoogle(t, "g@x.com", "g-1")
		_, err := f.profile.UpdateProfile(ctx, acc.ID, strPtr("G"), nil)
		assert.NoError(t, err)
	})
}

func TestChangeEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("success issues a token with the new email", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")

		sess, err := f.profile.ChangeEmail(ctx, acc.ID, " New@X.com ", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "new@x.com", sess.Account.Email)

		claims, err := f.issuer.Verify(sess.Token)
		require.NoError(t, err)
		assert.Equal(t, "new@x.com", claims.Email)
		assert.Equal(t, acc.ID, claims.AccountID())

		_, err = f.accounts.Login(ctx, "new@x.com", "secret1")
		assert.NoError(t, err)
	})

	t.Run("same email is allowed", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")
		_, err := f.profile.ChangeEmail(ctx, acc.ID, "a@x.com", "secret1")
		assert.NoError(t, err)
	})

	tests := []struct {
		name     string
		newEmail string
		password string
		google   bool
		taken    bool
		kind     error
		want     string
	}{
		{"missing email", "", "secret1", false, false, common.ErrValidation, "newEmail is required"},
		{"missing password", "b@x.com", "", false, false, common.ErrValidation, "password is required"},
		{"google account", "b@x.com", "secret1", true, false, common.ErrForbidden, "Google account cannot change email"},
		{"wrong password", "b@x.com", "nope-nope", false, false, common.ErrAuth, "Invalid credentials"},
		{"email taken", "b@x.com", "secret1", false, true, common.ErrConflict, "Email already in use"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			acc := f.seedLocal(t, "a@x.com", "secret1")
			if tc.google {
				acc = f.seedGoogle(t, "g@x.com", "g-1")
			}
			if tc.taken {
				f.seedLocal(t, "b@x.com", "secret2")
			}

			_, err := f.profile.ChangeEmail(ctx, acc.ID, tc.newEmail, tc.password)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")

		require.NoError(t, f.profile.ChangePassword(ctx, acc.ID, "secret1", "newpass1"))

		_, err := f.accounts.Login(ctx, "a@x.com", "newpass1")
		assert.NoError(t, err)
		_, err = f.accounts.Login(ctx, "a@x.com", "secret1")
		assert.ErrorIs(t, err, common.ErrAuth)
	})

	t.Run("rejections", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")
		g := f.seedGoogle(t, "g@x.com", "g-1")

		err := f.profile.ChangePassword(ctx, acc.ID, "", "newpass1")
		assert.Equal(t, "currentPassword is required", err.Error())

		err = f.profile.ChangePassword(ctx, acc.ID, "secret1", "short")
		assert.Equal(t, "newPassword must be at least 6 chars", err.Error())

		err = f.profile.ChangePassword(ctx, acc.ID, "secret1", strings.Repeat("p", 80))
		assert.ErrorIs(t, err, common.ErrValidation)
		assert.Equal(t, "newPassword must be at most 72 bytes", err.Error())

		err = f.profile.ChangePassword(ctx, acc.ID, "wrong-one", "newpass1")
		assert.ErrorIs(t, err, common.ErrAuth)
		assert.Equal(t, "Invalid credentials", err.Error())

		err = f.profile.ChangePassword(ctx, g.ID, "anything", "newpass1")
		assert.ErrorIs(t, err, common.ErrForbidden)
		assert.Equal(t, "Google account cannot change password", err.Error())

		err = f.profile.ChangePassword(ctx, "missing", "secret1", "newpass1")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestChangePassword_KeepsConcurrentProfileEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.seedLocal(t, "a@x.com", "secret1")

	f.hasher.onHash = func() {
		_, err := f.profile.UpdateProfile(ctx, acc.ID, strPtr("Ann"), nil)
		require.NoError(t, err)
	}
	require.NoError(t, f.profile.ChangePassword(ctx, acc.ID, "secret1", "newpass1"))

	stored := f.account(t, acc.ID)
	assert.Equal(t, "hashed:newpass1", *stored.PasswordHash)
	require.NotNil(t, stored.Name)
	assert.Equal(t, "Ann", *stored.Name)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("local account requires password", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedLocal(t, "a@x.com", "secret1")
		_, err := f.todos.Create(ctx, acc.ID, "buy milk", nil)
		require.NoError(t, err)

		err = f.profile.DeleteAccount(ctx, acc.ID, "")
		assert.Equal(t, "password is required", err.Error())

		err = f.profile.DeleteAccount(ctx, acc.ID, "wrong-one")
		assert.ErrorIs(t, err, common.ErrAuth)

		require.NoError(t, f.profile.DeleteAccount(ctx, acc.ID, "secret1"))
		assert.Empty(t, f.store.accounts)
		assert.Empty(t, f.store.todos)

		_, err = f.profile.GetProfile(ctx, acc.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)

		err = f.profile.DeleteAccount(ctx, acc.ID, "secret1")
		assert.Equal(t, "User not found", err.Error())
	})

	t.Run("google only account deletes without password", func(t *testing.T) {
		f := newFixture(t)
		g := f.seedGoogle(t, "g@x.com", "g-1")
		require.NoError(t, f.profile.DeleteAccount(ctx, g.ID, ""))
	})

	t.Run("linked account still requires password", func(t *testing.T) {
		f := newFixture(t)
		f.google.identities["tok"] = &federated.Identity{Subject: "g-1", Email: "a@x.com"}
		acc := f.seedLocal(t, "a@x.com", "secret1")
		_, err := f.accounts.GoogleLogin(ctx, "tok")
		require.NoError(t, err)

		err = f.profile.DeleteAccount(ctx, acc.ID, "")
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestAvatarUploadURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.seedLocal(t, "a@x.com", "secret1")

	up, err := f.profile.AvatarUploadURL(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/avatars/"+acc.ID+"/k", up.PictureURL)

	_, err = f.profile.AvatarUploadURL(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	f.profile.avatars = &fakePresigner{enabled: true, err: errors.New("s3 down")}
	_, err = f.profile.AvatarUploadURL(ctx, acc.ID)
	require.Error(t, err)
	assert.Nil(t, kindOf(err))

	f.profile.avatars = &fakePresigner{enabled: false}
	_, err = f.profile.AvatarUploadURL(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	f.profile.avatars = nil
	_, err = f.profile.AvatarUploadURL(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
