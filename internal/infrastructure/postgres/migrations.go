package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS attempts (
	id BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	attempt INT NOT NULL,
	success BOOLEAN NOT NULL,
	slot TEXT NOT NULL DEFAULT '',
	confirmation_code TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_credentials (
	platform TEXT PRIMARY KEY,
	username_enc TEXT NOT NULL,
	password_enc TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_attempts_correlation ON attempts(correlation_id);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
