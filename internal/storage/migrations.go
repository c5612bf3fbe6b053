package storage

import (
	"context"

	"github.com/reverb-labs/schedcore/libs/db"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS tenant_policies (
	tenant_id TEXT PRIMARY KEY,
	timezone TEXT NOT NULL,
	work_days INT[] NOT NULL,
	work_start_minute INT NOT NULL,
	work_end_minute INT NOT NULL,
	slot_minutes INT NOT NULL,
	calendar_id TEXT NOT NULL DEFAULT 'primary',
	default_duration_minutes INT NOT NULL DEFAULT 30,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT work_hours_ordered CHECK (work_start_minute < work_end_minute)
);

CREATE TABLE IF NOT EXISTS appointments (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id TEXT NOT NULL,
	client_ref TEXT NOT NULL,
	service TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	duration_minutes INT NOT NULL,
	status TEXT NOT NULL,
	calendar_event_id TEXT,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT interval_matches_duration CHECK (end_time = start_time + duration_minutes * interval '1 minute'),
	CONSTRAINT live_appointments_no_overlap EXCLUDE USING gist (
		tenant_id WITH =,
		tstzrange(start_time, end_time) WITH &&
	) WHERE (status IN ('pending_confirmation', 'confirmed'))
);

CREATE INDEX IF NOT EXISTS idx_appointments_tenant_start ON appointments(tenant_id, start_time);
CREATE INDEX IF NOT EXISTS idx_appointments_tenant_status ON appointments(tenant_id, status);

CREATE TABLE IF NOT EXISTS booking_idempotency_keys (
	tenant_id TEXT NOT NULL,
	idem_key TEXT NOT NULL,
	appointment_id UUID NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, idem_key)
);

CREATE TABLE IF NOT EXISTS calendar_blocks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	block_type TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	calendar_event_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_blocks_tenant_status ON calendar_blocks(tenant_id, status);

CREATE TABLE IF NOT EXISTS outbox_events (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL DEFAULT gen_random_uuid(),
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	traceparent TEXT NOT NULL DEFAULT '',
	tracestate TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_events(id) WHERE published_at IS NULL;
`

// Migrate applies the schema. Statements are idempotent, so running it on
// every boot is safe.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
