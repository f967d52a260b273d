//go:build !sqlite
// +build !sqlite

package store

import (
	"errors"

	logx "chime/pkg/logx"
)

func openSQLiteCache(cfg CacheConfig, log logx.Logger) (Cache, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite cache not built: build with -tags sqlite")
}
