// Package auth resolves bearer tokens to caller identities.
//
// Two providers are available. The builtin provider keeps bcrypt password
// hashes in the store and issues HS256 session tokens. The supabase provider
// verifies tokens minted by a Supabase project against the project's JWKS
// endpoint and manages no local credentials.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRole        = errors.New("invalid role")
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Provider verifies bearer tokens.
type Provider interface {
	// Verify checks the token's signature and registered claims and returns
	// the identity it encodes. Malformed, expired, or otherwise invalid
	// tokens yield ErrUnauthorized.
	Verify(ctx context.Context, token string) (*Identity, error)

	// Bootstrap performs one-time provider setup, such as seeding the
	// initial admin account. Safe to call on every startup.
	Bootstrap(ctx context.Context) error

	// Mode names the provider, "builtin" or "supabase".
	Mode() string
}
