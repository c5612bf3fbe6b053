package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/outbox"
	"github.com/reverb-labs/schedcore/libs/db"
)

// BlockRepository persists tenant-declared unavailable periods. Blocks are
// soft-deleted so the audit trail survives an unblock.
type BlockRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBlockRepository(pool *db.Pool, ob *outbox.Repository) *BlockRepository {
	return &BlockRepository{pool: pool, outbox: ob}
}

const blockColumns = `
	id::text, tenant_id, start_time, end_time, block_type, reason, status,
	COALESCE(calendar_event_id, ''), created_at`

func scanBlock(row pgx.Row) (model.CalendarBlock, error) {
	var b model.CalendarBlock
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.Start,
		&b.End,
		&b.BlockType,
		&b.Reason,
		&b.Status,
		&b.CalendarEventID,
		&b.CreatedAt,
	)
	return b, err
}

func (r *BlockRepository) Create(ctx context.Context, block *model.CalendarBlock, events ...outbox.Event) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID any
	if block.CalendarEventID != "" {
		eventID = block.CalendarEventID
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO calendar_blocks
			(id, tenant_id, start_time, end_time, block_type, reason, status, calendar_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, block.ID, block.TenantID, block.Start, block.End, block.BlockType, block.Reason,
		model.BlockActive, eventID)
	if err != nil {
		return "", err
	}
	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	block.Status = model.BlockActive
	return block.ID, nil
}

func (r *BlockRepository) Get(ctx context.Context, tenantID, id string) (model.CalendarBlock, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM calendar_blocks
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanBlock(row)
}

// SetDeleted soft-deletes an active block. Rows are never purged.
func (r *BlockRepository) SetDeleted(ctx context.Context, tenantID, id string, events ...outbox.Event) (model.CalendarBlock, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.CalendarBlock{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	block, err := scanBlock(tx.QueryRow(ctx, `
		UPDATE calendar_blocks
		SET status = $3
		WHERE tenant_id = $1 AND id = $2 AND status = $4
		RETURNING `+blockColumns,
		tenantID, id, model.BlockDeleted, model.BlockActive))
	if err != nil {
		return model.CalendarBlock{}, err
	}
	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.CalendarBlock{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.CalendarBlock{}, err
	}
	return block, nil
}

// ListActive returns active blocks only; deleted rows stay queryable by id
// for audits but never surface in listings.
func (r *BlockRepository) ListActive(ctx context.Context, tenantID string, limit int) ([]model.CalendarBlock, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM calendar_blocks
		WHERE tenant_id = $1 AND status = $2
		ORDER BY start_time ASC
		LIMIT $3
	`, tenantID, model.BlockActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.CalendarBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}
