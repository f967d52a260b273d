package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

// fileCache is the dependency-free cache backend: one JSON snapshot file
// holding the full schedule collection. Writes go through a temp file +
// rename so a crash mid-write never leaves a torn snapshot.
type fileCache struct {
	log  logx.Logger
	mu   sync.Mutex
	path string
}

type fileSnapshot struct {
	Key       string              `json:"key"`
	Schedules []schedule.Schedule `json:"schedules"`
}

func openFileCache(cfg CacheConfig, log logx.Logger) (Cache, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileCache{log: log, path: path}, nil
}

func (c *fileCache) Load() ([]schedule.Schedule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// A corrupt snapshot is not fatal; the remote store can repopulate.
		c.log.Warn("cache snapshot unreadable, ignoring", logx.String("path", c.path), logx.Err(err))
		return nil, nil
	}
	return snap.Schedules, nil
}

func (c *fileCache) Save(list []schedule.Schedule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := fileSnapshot{Key: StorageKey, Schedules: list}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func (c *fileCache) Close() error { return nil }
