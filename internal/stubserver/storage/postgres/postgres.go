// Package postgres opens the stub server's postgres backing store with its
// schema applied.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// Conn is an open, migrated database handle.
type Conn struct {
	DB *sql.DB
}

// Open connects to dsn, verifies the connection within ctx and applies the
// schema.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
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
