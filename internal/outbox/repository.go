package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reverb-labs/schedcore/libs/db"
	otelx "github.com/reverb-labs/schedcore/libs/otel"
)

// Record is one row of the outbox table, fetched for publishing. Field order
// matches the column order of fetchSQL.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

const fetchSQL = `SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
FROM outbox_events
WHERE published_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends an event within the caller's transaction, so the event row
// commits or rolls back together with the state change it describes. The
// active trace context is captured in the row for the publisher to restore.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate,
	); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", evt.EventType, err)
	}
	return nil
}

// FetchUnpublished claims up to limit pending rows. SKIP LOCKED keeps
// concurrent publishers from blocking on each other's claims.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, fetchSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
	if err != nil {
		return nil, fmt.Errorf("scan outbox rows: %w", err)
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}
