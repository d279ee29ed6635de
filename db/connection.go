package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/errors"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before
// returning SQLITE_BUSY. Runners and the API share one connection pool, so
// short lock contention is expected.
const SQLiteBusyTimeoutMS = 5000

// ParsePath resolves a database URI from settings into a filesystem path.
// Accepted forms:
//
//	sqlite://homeworq.db    relative path
//	sqlite:///var/lib/hq.db absolute path
//	sqlite://:memory:       in-memory database
//	homeworq.db             bare path, used as-is
func ParsePath(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("database URI is empty")
	}
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	const scheme = "sqlite://"
	if !strings.HasPrefix(uri, scheme) {
		return "", errors.Newf("unsupported database URI scheme: %s (only sqlite:// is supported)", uri)
	}
	path := strings.TrimPrefix(uri, scheme)
	if path == "" {
		return "", errors.Newf("database URI has no path: %s", uri)
	}
	return path, nil
}

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	// Create the parent directory so first runs with a fresh data dir work
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// All callers share one connection: pragmas bind per connection, and an
	// in-memory database lives and dies with its connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS)); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
// This is the entry point used by the engine at startup.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return db, nil
}

// OpenURI parses a settings database URI and opens it with migrations applied.
func OpenURI(uri string, logger *zap.SugaredLogger) (*sql.DB, error) {
	path, err := ParsePath(uri)
	if err != nil {
		return nil, err
	}
	return OpenWithMigrations(path, logger)
}
