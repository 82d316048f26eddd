package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// MemoryPath selects a private in-memory SQLite database.
const MemoryPath = ":memory:"

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "./fraudguard.db"

// filePragmas apply to on-disk databases. WAL lets the HTTP handlers read
// while a worker writes decisions.
var filePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN returns the modernc.org/sqlite DSN for path.
func sqliteDSN(path string) string {
	if path == MemoryPath {
		return "file::memory:?_pragma=foreign_keys(ON)"
	}
	params := make([]string, len(filePragmas))
	for i, p := range filePragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// openSQLite uses the pure Go driver, so the binaries build without CGO.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = DefaultSQLitePath
	}

	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// every pooled connection to :memory: would get its own empty database,
	// and a file database only takes one writer at a time anyway
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}
