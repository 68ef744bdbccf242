// Package services contains the server-side business logic: account identity
// resolution, password reset, profile mutation and todo management. Every
// caller-facing failure is a *common.Error; anything else is an internal
// error and must not be shown to the caller.
package services

import (
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
)

const (
	MinPasswordLength = 6
	MaxPasswordBytes  = passwords.MaxBytes
	MaxNameLength     = 120
	MaxPictureLength  = 2000
)

// Session is the result of every flow that authenticates the caller.
type Session struct {
	Token   string
	Account *models.Account
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}

// optional turns a trimmed value into a nullable column: blank means NULL.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// checkNewPassword bounds a password before it is hashed: at least
// MinPasswordLength characters and at most MaxPasswordBytes bytes.
func checkNewPassword(password, tooShort, tooLong string) error {
	if length(password) < MinPasswordLength {
		return common.Validation(tooShort)
	}
	if len(password) > MaxPasswordBytes {
		return common.Validation(tooLong)
	}
	return nil
}
