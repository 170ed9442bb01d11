package storage

import (
	"context"
	"errors"
	"strings"

	"bigben/pkg/logx"
)

// Store is the persistence API used by the housekeeping service and startup.
type Store interface {
	SaveSettings(ctx context.Context, s Settings) error
	// LoadSettings reports ok=false when nothing has been saved yet.
	LoadSettings(ctx context.Context) (s Settings, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return newMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
