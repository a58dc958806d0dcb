package auth

import (
	"fmt"

	"github.com/vaenkat/health-ecosystem-hub/internal/config"
	"github.com/vaenkat/health-ecosystem-hub/internal/store"
)

// NewProvider returns the auth provider selected by the config.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "supabase":
		return NewSupabaseProvider(cfg.SupabaseJWKSURL, cfg.SupabaseIssuer, cfg.SupabaseAudience)
	case "builtin", "":
		return NewService(s, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
