package models

import "time"

// PasswordReset is a pending or spent one-time code. Only the hash of the
// code is stored.
type PasswordReset struct {
	ID        string
	AccountID string
	CodeHash  string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (p *PasswordReset) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
