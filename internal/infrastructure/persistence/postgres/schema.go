package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the logical schema from spec.md §6, written out as plain DDL.
// Schema migration tooling is out of scope (DESIGN.md), so this is the
// single source of truth for both production bootstrap and integration
// tests, mirroring the teacher's `EnsureSchema` pattern rather than a
// migration runner.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_row (
	id                    TEXT PRIMARY KEY,
	status                TEXT NOT NULL,
	app_version           TEXT NOT NULL,
	queue_name            TEXT NOT NULL,
	flow_id               TEXT NOT NULL,
	flow_version          TEXT,
	timeout_ms            BIGINT NOT NULL,
	deduplication_id      TEXT,
	debug                 BOOLEAN NOT NULL DEFAULT FALSE,
	root_execution_id     TEXT,
	parent_execution_id   TEXT,
	execution_depth       INT NOT NULL DEFAULT 0,
	integration_context   JSONB,
	event_data            JSONB,
	input                 JSONB,
	output                JSONB,
	error                 JSONB,
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	recovery_attempts     INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS queue_entry (
	workflow_id             TEXT PRIMARY KEY REFERENCES workflow_row(id),
	queue_name              TEXT NOT NULL,
	enqueued_at             TIMESTAMPTZ NOT NULL,
	worker_concurrency_key  TEXT NOT NULL,
	global_concurrency_key  TEXT NOT NULL,
	claimed_by              TEXT,
	claim_expires_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_queue_entry_queue_enqueued ON queue_entry(queue_name, enqueued_at);

CREATE TABLE IF NOT EXISTS workflow_step (
	workflow_id  TEXT NOT NULL REFERENCES workflow_row(id),
	step_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	output       JSONB,
	error        JSONB,
	attempt      INT NOT NULL DEFAULT 1,
	PRIMARY KEY (workflow_id, step_id)
);

CREATE TABLE IF NOT EXISTS workflow_stream (
	workflow_id  TEXT NOT NULL,
	stream_key   TEXT NOT NULL,
	index        BIGINT NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB,
	written_at   TIMESTAMPTZ NOT NULL,
	terminal     BOOLEAN NOT NULL DEFAULT FALSE,
	dedupe_key   TEXT,
	PRIMARY KEY (workflow_id, stream_key, index)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_stream_dedupe
	ON workflow_stream(workflow_id, stream_key, dedupe_key) WHERE dedupe_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS workflow_message (
	id            BIGSERIAL PRIMARY KEY,
	workflow_id   TEXT NOT NULL,
	topic         TEXT NOT NULL,
	payload       JSONB,
	received_at   TIMESTAMPTZ NOT NULL,
	delivered_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_workflow_message_pending
	ON workflow_message(workflow_id, topic) WHERE delivered_at IS NULL;

CREATE TABLE IF NOT EXISTS execution_row (
	id                    TEXT PRIMARY KEY,
	flow_id               TEXT NOT NULL,
	owner_id              TEXT NOT NULL,
	status                TEXT NOT NULL,
	debug                 BOOLEAN NOT NULL DEFAULT FALSE,
	strict_children       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL,
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	error_message         TEXT,
	root_execution_id     TEXT,
	parent_execution_id   TEXT,
	execution_depth       INT NOT NULL DEFAULT 0,
	integration_context   JSONB,
	event_data            JSONB
);

-- Flow definitions are created by external tooling and loaded read-only by
-- the core when an execution starts (spec.md §3); this table is the
-- relational home for that read path, fronted by the Redis flow cache.
CREATE TABLE IF NOT EXISTS flow_definition (
	id          TEXT NOT NULL,
	version     TEXT NOT NULL,
	data        JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, version)
);
`

// EnsureSchema applies Schema against pool. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
