package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// SupabaseProvider verifies access tokens minted by a Supabase project
// against the project's JWKS endpoint.
type SupabaseProvider struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
}

// NewSupabaseProvider builds a provider for a Supabase project. jwksURL is
// the project's JWKS endpoint and issuer its auth URL, e.g.
// "https://<ref>.supabase.co/auth/v1". The JWKS is fetched eagerly and
// refreshed in the background.
func NewSupabaseProvider(jwksURL, issuer, audience string) (*SupabaseProvider, error) {
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch supabase jwks: %w", err)
	}
	return &SupabaseProvider{issuer: issuer, audience: audience, jwks: jwks}, nil
}

// Mode implements Provider.
func (p *SupabaseProvider) Mode() string { return "supabase" }

// Bootstrap implements Provider. Supabase owns the user pool, so there is
// nothing to seed locally.
func (p *SupabaseProvider) Bootstrap(ctx context.Context) error { return nil }

// Verify implements Provider.
func (p *SupabaseProvider) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{
		UserID: sub,
		Email:  claimStr(claims, "email"),
		Role:   supabaseRole(claims),
	}, nil
}

// supabaseRole resolves the application role carried in the token. A custom
// access token hook can set user_role directly. The bare role claim is a
// Postgres grant ("authenticated", "anon") for stock Supabase tokens, so it
// only counts when it names something else. Accounts with no role claim at
// all are treated as patients.
func supabaseRole(claims jwt.MapClaims) string {
	if r := claimStr(claims, "user_role"); r != "" {
		return r
	}
	if r := claimStr(claims, "role"); r != "" && r != "authenticated" && r != "anon" {
		return r
	}
	return string(protocol.RolePatient)
}

func claimStr(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
