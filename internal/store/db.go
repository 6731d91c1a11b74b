// Package store is the Concept Store: companies, source documents, and
// business-concept master rows, plus the optimistic-locking and
// conditional-unique-index behaviors they require. The ANN vector index
// lives in the sibling internal/vector package and is wired in as this
// package's similarity search backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Profile selects the PRAGMA set a database is opened with, following the
// teacher's "different workloads need different durability/speed tradeoffs"
// convention.
type Profile string

const (
	// ProfileStandard balances durability and throughput; used for the
	// concept store, whose rows matter but are always replayable from
	// SourceDocument.RawLLMOutput on corruption.
	ProfileStandard Profile = "standard"
	// ProfileAppendOnly favors throughput for write-heavy, append-only
	// tables; used for market-data snapshots.
	ProfileAppendOnly Profile = "append_only"
)

// DB wraps a SQLite connection with the connection-pool and PRAGMA
// configuration appropriate to its profile.
type DB struct {
	conn    *sql.DB
	path    string
	name    string
	profile Profile
}

// Config configures a single database file.
type Config struct {
	Path    string
	Name    string
	Profile Profile
}

// Open creates (or attaches to) a SQLite database with production-grade
// connection-pool and PRAGMA settings.
func Open(cfg Config) (*DB, error) {
	path := cfg.Path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve path for %s: %w", cfg.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", cfg.Name, err)
		}
		path = abs
	}

	conn, err := sql.Open("sqlite", buildDSN(path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: path, name: cfg.Name, profile: cfg.Profile}, nil
}

func buildDSN(path string, profile Profile) string {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=wal_autocheckpoint(1000)&_pragma=cache_size(-64000)"
	switch profile {
	case ProfileAppendOnly:
		dsn += "&_pragma=synchronous(NORMAL)&_pragma=auto_vacuum(INCREMENTAL)&_pragma=temp_store(MEMORY)"
	default:
		dsn += "&_pragma=synchronous(FULL)&_pragma=auto_vacuum(INCREMENTAL)&_pragma=temp_store(MEMORY)"
	}
	return dsn
}

func configurePool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the raw *sql.DB for repositories.
func (db *DB) Conn() *sql.DB { return db.conn }

// Name returns the friendly database name used in logs.
func (db *DB) Name() string { return db.name }

// Migrate applies schema DDL. It is idempotent: re-running against an
// already-migrated database is a no-op (CREATE TABLE/INDEX IF NOT EXISTS).
func (db *DB) Migrate(ctx context.Context, ddl string) error {
	_, err := db.conn.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", db.name, err)
	}
	return nil
}

// HealthCheck runs a connectivity probe plus a SQLite integrity check. No
// circuit breaker or HTTP endpoint calls it.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", db.name, err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
