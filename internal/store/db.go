package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for either Postgres (pgx) or SQLite.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection for the given driver ("pgx" or "sqlite3") and pings it.
func NewDB(driver, connString string) (*DB, error) {
	dsn := connString
	switch driver {
	case "pgx", "postgres":
		driver = "pgx"
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		var path string
		path, dsn = sqliteDSN(connString)
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// single writer avoids SQLITE_BUSY between the loop and HTTP handlers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{Client: db, Driver: driver}, nil
}

const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// sqliteDSN returns the file path of connString and the DSN with the pragmas appended
// to any query it already carries.
func sqliteDSN(connString string) (path, dsn string) {
	path, _, hasQuery := strings.Cut(connString, "?")
	if hasQuery {
		return path, connString + "&" + sqliteParams
	}
	return path, connString + "?" + sqliteParams
}

// Healthy reports whether the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
