// Package store persists conversations in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/soyeahso/xiaoji/internal/logging"
)

// MemoryDSN keeps the database inside the process.
const MemoryDSN = ":memory:"

// DB is an open conversation database with its schema at the latest version.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens the database at dsn, creating parent directories for file
// paths, and upgrades the schema.
func Open(dsn string, log *logging.Logger) (*DB, error) {
	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if dsn != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000")
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if dsn == MemoryDSN {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	db := &DB{sql: conn, log: log.Sub("store")}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "exec %q", p)
		}
	}
	if err := db.upgrade(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	db.log.Info().Str("dsn", dsn).Int("schema", len(migrations)).Msg("conversation database ready")
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL exposes the handle for ad-hoc queries.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// SchemaVersion reports PRAGMA user_version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.sql.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, errors.Wrap(err, "read schema version")
}

// upgrade applies the migrations past the stored user_version, each in its
// own transaction together with the version bump.
func (db *DB) upgrade(ctx context.Context) error {
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for i, m := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		db.log.Info().Int("version", version).Str("name", m.name).Msg("upgrading schema")

		tx, err := db.sql.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "schema %d", version)
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "schema %d (%s)", version, m.name)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(version)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "schema %d: set version", version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "schema %d: commit", version)
		}
	}
	return nil
}
