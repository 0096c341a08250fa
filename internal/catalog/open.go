package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a catalog backend.
type Config struct {
	// Backend is one of "file", "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`
	// Path is the catalog file for "file" and the database file for "sqlite".
	Path string `mapstructure:"path"`
	// DSN is the connection string for "postgres".
	DSN string `mapstructure:"dsn"`
}

// Open builds the configured backend. A backend that cannot be reached is a
// startup failure; the error wraps ErrUnavailable where applicable.
func Open(ctx context.Context, cfg Config) (Catalog, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("catalog.path is required for the file backend")
		}
		m, err := LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("catalog.path is required for the sqlite backend")
		}
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("catalog.dsn is required for the postgres backend")
		}
		p, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported catalog backend: %s", cfg.Backend)
	}
}
