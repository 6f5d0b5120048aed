package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	style           TEXT NOT NULL,
	size            INTEGER NOT NULL,
	extras          TEXT[] NOT NULL DEFAULT '{}',
	description     TEXT NOT NULL,
	prompt          TEXT NOT NULL DEFAULT '',
	checksum        TEXT NOT NULL,
	ephemeral_kind  TEXT NOT NULL,
	ephemeral_href  TEXT,
	durable_url     TEXT,
	durable_key     TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS generations_user_created_idx ON generations (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS generations_degraded_idx ON generations (updated_at) WHERE status = 'degraded';
`

// EnsureSchema creates the generations table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
