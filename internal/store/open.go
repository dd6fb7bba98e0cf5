package store

import (
	"fmt"
	"path/filepath"

	"kpopcal/internal/config"
)

// Open builds the store selected by cfg.Store.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.CacheRoot), nil
	case config.BackendSQLite:
		path := cfg.Store.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.CacheRoot, "kpopcal.db")
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Store.Backend)
	}
}
