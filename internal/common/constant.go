// Package common contains shared constants and errors used across
// todokeeper components.
package common

const (
	// AuthorizationHeader carries the session token as "Bearer <token>".
	AuthorizationHeader = "Authorization"

	// BearerScheme is the only accepted authorization scheme.
	BearerScheme = "Bearer"
)
