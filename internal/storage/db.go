package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // sqlite driver (pure Go)
)

// DB wraps the database connection. The proxy reaches the store through an
// ordinary SQL connection string: "postgres://..." selects postgres,
// anything else is treated as a sqlite path ("sqlite://file.db", "file.db"
// or ":memory:").
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to the access log store.
func Open(dsn string) (*DB, error) {
	driver, dataSource := parseDSN(dsn)

	conn, err := sqlx.Connect(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// modernc sqlite serializes writes anyway; a single connection
		// also keeps :memory: databases from silently forking.
		conn.SetMaxOpenConns(1)
	}

	return &DB{conn: conn, driver: driver}, nil
}

func parseDSN(dsn string) (driver, dataSource string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	default:
		return "sqlite", dsn
	}
}

// Driver returns the resolved driver name ("postgres" or "sqlite").
func (db *DB) Driver() string {
	return db.driver
}

// Conn returns the underlying sqlx connection.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Ping checks if the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
