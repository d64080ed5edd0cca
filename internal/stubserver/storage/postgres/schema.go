package postgres

import (
	"database/sql"
	"strings"
)

// schema mirrors the sqlite one with postgres column types. Every statement
// is idempotent, so Open is safe against an existing database.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id BIGSERIAL PRIMARY KEY,
	name TEXT,
	is_group_chat INT NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	user_id BIGINT NOT NULL REFERENCES users(id),
	is_admin INT NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	sender_id BIGINT NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	local_id TEXT,
	sent_at TEXT NOT NULL,
	edited_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);
`

func applySchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}
