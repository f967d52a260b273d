package store

import (
	"errors"
	"strings"
	"time"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

var ErrDisabled = errors.New("cache disabled")

// StorageKey is the single well-known key the whole collection is stored
// under in keyed backends (sqlite).
const StorageKey = "chime.schedules"

// CacheConfig configures the local schedule cache.
//
// Driver values:
//   - "file": dependency-free JSON snapshot (default)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the cache is disabled.
type CacheConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Cache is the local persistence API used by the dual store. It always
// reads and writes the full collection.
type Cache interface {
	Load() ([]schedule.Schedule, error)
	Save([]schedule.Schedule) error
	Close() error
}

// OpenCache initializes the configured cache backend.
// It returns (nil, nil) if the cache is disabled.
func OpenCache(cfg CacheConfig, log logx.Logger) (Cache, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFileCache(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteCache(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
