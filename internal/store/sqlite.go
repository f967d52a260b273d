//go:build sqlite
// +build sqlite

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

// sqliteCache stores the collection as one JSON value in a kv table,
// keyed by StorageKey.
type sqliteCache struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteCache(cfg CacheConfig, log logx.Logger) (Cache, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteCache{db: db, log: log}, nil
}

func (c *sqliteCache) Load() ([]schedule.Schedule, error) {
	var raw string
	err := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []schedule.Schedule
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		c.log.Warn("cache row unreadable, ignoring", logx.Err(err))
		return nil, nil
	}
	return list, nil
}

func (c *sqliteCache) Save(list []schedule.Schedule) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT INTO kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		StorageKey, string(b),
	)
	return err
}

func (c *sqliteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
