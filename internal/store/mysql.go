package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the shared-backend Store implementation for deployments
// running more than one orchestrator process against one database: a
// connection pool over the go-sql-driver/mysql driver, auto-migration on
// open.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore opens a connection pool against dsn (a standard
// go-sql-driver/mysql DSN, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true")
// and applies the schema migration.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql store: %w", err)
	}
	if err := migrate(db, "mysql"); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: &sqlStore{db: db, dialect: "mysql"}}, nil
}
