// Package sqlite opens the stub server's embedded backing store with its
// schema applied.
package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// Conn is an open, migrated database handle.
type Conn struct {
	DB *sql.DB
}

// Open opens the database at dsn and applies the schema. The pool is capped
// at one connection: sqlite serializes writers anyway, and a single handle
// keeps the hub's write bursts from tripping busy errors.
func Open(dsn string) (*Conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{DB: db}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Conn) Close() error {
	return c.DB.Close()
}
