// Package db is the persistent store: SQLite behind sqlx, with
// insert-or-update-on-conflict semantics for every entity so that webhook
// handlers can be replayed safely in any order.
package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("resource not found")

// DB represents the database connection.
type DB struct {
	*sqlx.DB
}

// New opens (or creates) the SQLite database at dbPath.
func New(dbPath string) (*DB, error) {
	conn, err := sqlx.Connect("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{DB: conn}, nil
}

// Initialize creates the database schema if it doesn't exist.
func (db *DB) Initialize() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// notFound maps sql.ErrNoRows onto the package sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
