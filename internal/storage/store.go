package storage

import (
	logx "duewatch/pkg/logx"
)

// Open initializes the SQLite-backed store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
