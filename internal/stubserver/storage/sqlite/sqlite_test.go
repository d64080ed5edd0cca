package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesSchema(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping(context.Background()))

	var n int
	err = conn.DB.QueryRow(`SELECT COUNT(1) FROM sqlite_master
		WHERE type='table' AND name IN ('users','conversations','participants','messages')`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = conn.DB.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES ('a', 'x', '2025-01-01T00:00:00Z')`)
	require.NoError(t, err)

	// Idempotent against an already-migrated database.
	require.NoError(t, applySchema(conn.DB))
}
