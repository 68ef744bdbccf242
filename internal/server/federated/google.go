// Package federated verifies identity tokens issued by Google Sign-In.
package federated

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// ErrInvalidToken is returned for every rejected identity token. The wrapped
// text explains why and is meant for logs only.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is the verified content of a Google ID token.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// Verifier turns a raw identity token into a verified Identity.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type GoogleVerifier struct {
	keyfunc   jwt.Keyfunc
	audiences map[string]struct{}
	close     func()
}

// NewGoogleVerifier fetches Google's signing keys and keeps them fresh in
// the background until Close is called.
func NewGoogleVerifier(ctx context.Context, audiences []string, onRefreshError func(error)) (*GoogleVerifier, error) {
	jwks, err := keyfunc.Get(GoogleJWKSURL, keyfunc.Options{
		Ctx:                 ctx,
		RefreshInterval:     time.Hour,
		RefreshRateLimit:    5 * time.Minute,
		RefreshTimeout:      10 * time.Second,
		RefreshUnknownKID:   true,
		RefreshErrorHandler: onRefreshError,
	})
	if err != nil {
		return nil, fmt.Errorf("load google jwks: %w", err)
	}

	v := NewGoogleVerifierWithKeyfunc(jwks.Keyfunc, audiences)
	v.close = jwks.EndBackground
	return v, nil
}

// NewGoogleVerifierWithKeyfunc builds a verifier over an arbitrary key source.
func NewGoogleVerifierWithKeyfunc(kf jwt.Keyfunc, audiences []string) *GoogleVerifier {
	set := make(map[string]struct{}, len(audiences))
	for _, a := range audiences {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &GoogleVerifier{keyfunc: kf, audiences: set, close: func() {}}
}

func (v *GoogleVerifier) Close() {
	v.close()
}

func (v *GoogleVerifier) Verify(_ context.Context, idToken string) (*Identity, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, v.keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if !v.issuerAllowed(claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if !v.audienceAllowed(claims.Audience) {
		return nil, fmt.Errorf("%w: audience not accepted", ErrInvalidToken)
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Subject == "" || email == "" {
		return nil, fmt.Errorf("%w: missing sub or email", ErrInvalidToken)
	}

	return &Identity{
		Subject:       claims.Subject,
		Email:         email,
		Name:          strings.TrimSpace(claims.Name),
		Picture:       strings.TrimSpace(claims.Picture),
		EmailVerified: truthy(claims.EmailVerified),
	}, nil
}

func (v *GoogleVerifier) issuerAllowed(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

func (v *GoogleVerifier) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if _, ok := v.audiences[a]; ok {
			return true
		}
	}
	return false
}

// Google has sent email_verified both as a JSON bool and as a string.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
