package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas tune the Community tier store for a single service
// process. WAL keeps reads open during analysis writes; the busy
// timeout replaces immediate SQLITE_BUSY errors with a bounded wait.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openSQLite opens the embedded SQLite store. modernc.org/sqlite is
// pure Go, which keeps the Community binary CGO-free.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./harrier.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	query := make([]string, len(sqlitePragmas))
	for i, pragma := range sqlitePragmas {
		query[i] = "_pragma=" + pragma
	}
	dsn := "file:" + path + "?" + strings.Join(query, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; funneling the pool through a single
	// connection turns lock contention into queueing instead of busy
	// retries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}
