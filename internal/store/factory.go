package store

import (
	"fmt"

	"github.com/vaenkat/health-ecosystem-hub/internal/config"
)

// New creates a Store based on the configured database driver.
func New(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}
