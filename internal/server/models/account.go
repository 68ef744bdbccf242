package models

import "time"

// Account is a persisted identity. Optional columns are pointers; nil means
// NULL in the store.
type Account struct {
	ID           string
	Email        string
	GoogleSub    *string
	PasswordHash *string
	Name         *string
	Picture      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the account supports local password login.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// IsFederated reports whether a Google subject is linked to the account.
func (a *Account) IsFederated() bool {
	return a.GoogleSub != nil && *a.GoogleSub != ""
}

// IsFederatedOnly reports whether Google is the account's only login method.
func (a *Account) IsFederatedOnly() bool {
	return a.IsFederated() && !a.HasPassword()
}
