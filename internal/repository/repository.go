// Package repository is the durable job store backed by Postgres. Counter
// updates go through single UPDATE ... RETURNING statements so concurrent
// workers never lose increments.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              UUID PRIMARY KEY,
	session_token   TEXT NOT NULL,
	output_format   TEXT NOT NULL,
	quality         INT NOT NULL,
	lossless        BOOLEAN NOT NULL DEFAULT false,
	resize_width    INT,
	resize_height   INT,
	resize_percent  INT,
	total_files     INT NOT NULL,
	completed_files INT NOT NULL DEFAULT 0,
	failed_files    INT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs (expires_at) WHERE status <> 'failed';

CREATE TABLE IF NOT EXISTS job_files (
	id              UUID PRIMARY KEY,
	job_id          UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	original_name   TEXT NOT NULL,
	original_key    TEXT NOT NULL,
	original_size   BIGINT NOT NULL,
	original_format TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	converted_key   TEXT,
	converted_size  BIGINT,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_files_job_id ON job_files (job_id);

CREATE TABLE IF NOT EXISTS conversion_events (
	id              BIGSERIAL PRIMARY KEY,
	input_format    TEXT,
	output_format   TEXT NOT NULL,
	input_size      BIGINT NOT NULL,
	output_size     BIGINT NOT NULL,
	savings_percent REAL NOT NULL,
	duration_ms     BIGINT NOT NULL,
	quality         INT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates tables on startup, so development and tests do not
// need a separate migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
