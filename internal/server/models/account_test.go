package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestAccount_AuthMethods(t *testing.T) {
	tests := []struct {
		name          string
		acc           Account
		hasPassword   bool
		federated     bool
		federatedOnly bool
	}{
		{"local", Account{PasswordHash: strPtr("$2a$10$x")}, true, false, false},
		{"google only", Account{GoogleSub: strPtr("g-1")}, false, true, true},
		{"linked", Account{PasswordHash: strPtr("$2a$10$x"), GoogleSub: strPtr("g-1")}, true, true, false},
		{"empty strings count as absent", Account{PasswordHash: strPtr(""), GoogleSub: strPtr("")}, false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.hasPassword, tc.acc.HasPassword())
			assert.Equal(t, tc.federated, tc.acc.IsFederated())
			assert.Equal(t, tc.federatedOnly, tc.acc.IsFederatedOnly())
		})
	}
}

func TestPasswordReset_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := PasswordReset{ExpiresAt: now.Add(15 * time.Minute)}

	assert.False(t, p.Expired(now))
	assert.False(t, p.Expired(now.Add(15*time.Minute)))
	assert.True(t, p.Expired(now.Add(15*time.Minute+time.Second)))
}
