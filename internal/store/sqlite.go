package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-file Store backend for development and
// single-process deployments: WAL mode, a single writer connection,
// auto-migration on open.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and applies the schema migration. path may be ":memory:" for a
// process-local, non-durable database useful in tests that still want to
// exercise the SQL code path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if err := migrate(db, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: &sqlStore{db: db, dialect: "sqlite"}}, nil
}
