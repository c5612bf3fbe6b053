package storage

import (
	"context"
	"time"

	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/libs/db"
)

type PolicyRepository struct {
	pool *db.Pool
}

func NewPolicyRepository(pool *db.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

func (r *PolicyRepository) Get(ctx context.Context, tenantID string) (model.TenantPolicy, error) {
	var p model.TenantPolicy
	var workDays []int
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, timezone, work_days, work_start_minute, work_end_minute,
			slot_minutes, calendar_id, default_duration_minutes
		FROM tenant_policies
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&p.TenantID,
		&p.Timezone,
		&workDays,
		&p.WorkStartMinute,
		&p.WorkEndMinute,
		&p.SlotMinutes,
		&p.CalendarID,
		&p.DefaultDurationMinutes,
	)
	if err != nil {
		return model.TenantPolicy{}, err
	}
	p.WorkDays = make([]time.Weekday, 0, len(workDays))
	for _, d := range workDays {
		p.WorkDays = append(p.WorkDays, time.Weekday(d))
	}
	return p, nil
}

func (r *PolicyRepository) Upsert(ctx context.Context, p model.TenantPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	workDays := make([]int, 0, len(p.WorkDays))
	for _, d := range p.WorkDays {
		workDays = append(workDays, int(d))
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_policies
			(tenant_id, timezone, work_days, work_start_minute, work_end_minute,
			 slot_minutes, calendar_id, default_duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			work_days = EXCLUDED.work_days,
			work_start_minute = EXCLUDED.work_start_minute,
			work_end_minute = EXCLUDED.work_end_minute,
			slot_minutes = EXCLUDED.slot_minutes,
			calendar_id = EXCLUDED.calendar_id,
			default_duration_minutes = EXCLUDED.default_duration_minutes,
			updated_at = now()
	`, p.TenantID, p.Timezone, workDays, p.WorkStartMinute, p.WorkEndMinute,
		p.SlotMinutes, p.CalendarID, p.DefaultDurationMinutes)
	return err
}
