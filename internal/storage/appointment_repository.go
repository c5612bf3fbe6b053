package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/outbox"
	"github.com/reverb-labs/schedcore/libs/db"
)

// AppointmentRepository persists appointment records. Live rows (pending or
// confirmed) are covered by an exclusion constraint on
// (tenant_id, tstzrange(start_time, end_time)), which is the authoritative
// serialization for concurrent bookings of the same interval.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: ob}
}

const appointmentColumns = `
	id::text, tenant_id, client_ref, service, start_time, end_time,
	duration_minutes, status, COALESCE(calendar_event_id, ''), notes,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ClientRef,
		&a.Service,
		&a.Start,
		&a.End,
		&a.DurationMinutes,
		&a.Status,
		&a.CalendarEventID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment, events ...outbox.Event) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID any
	if appt.CalendarEventID != "" {
		eventID = appt.CalendarEventID
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, tenant_id, client_ref, service, start_time, end_time, duration_minutes, status, calendar_event_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, appt.ID, appt.TenantID, appt.ClientRef, appt.Service, appt.Start, appt.End,
		appt.DurationMinutes, appt.Status, eventID, appt.Notes)
	if err != nil {
		return "", err
	}
	if err := r.insertEvents(ctx, tx, events); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return appt.ID, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanAppointment(row)
}

// SetConfirmed moves a pending record to confirmed and attaches the calendar
// event reference. The status guard in the WHERE clause makes the transition
// atomic: a row already moved by a concurrent request matches nothing and the
// caller sees ErrNoRows.
func (r *AppointmentRepository) SetConfirmed(ctx context.Context, tenantID, id, calendarEventID string, events ...outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, events, `
		UPDATE appointments
		SET status = $3,
			calendar_event_id = $4,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = $5
		RETURNING `+appointmentColumns,
		tenantID, id, model.StatusConfirmed, calendarEventID, model.StatusPendingConfirmation)
}

func (r *AppointmentRepository) SetCancelled(ctx context.Context, tenantID, id, reason string, events ...outbox.Event) (model.Appointment, error) {
	note := "cancelled"
	if reason != "" {
		note = fmt.Sprintf("cancelled: %s", reason)
	}
	return r.mutate(ctx, events, `
		UPDATE appointments
		SET status = $3,
			calendar_event_id = NULL,
			notes = TRIM(BOTH E'\n' FROM notes || E'\n' || $4),
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status IN ($5, $6)
		RETURNING `+appointmentColumns,
		tenantID, id, model.StatusCancelled, note,
		model.StatusPendingConfirmation, model.StatusConfirmed)
}

// Reschedule rewrites the interval on the same record, clears the calendar
// reference, and drops the record back to pending confirmation. The exclusion
// constraint rejects the new interval when another live record claims it.
func (r *AppointmentRepository) Reschedule(ctx context.Context, tenantID, id string, start, end time.Time, durationMinutes int, auditNote string, events ...outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, events, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			duration_minutes = $5,
			status = $6,
			calendar_event_id = NULL,
			notes = TRIM(BOTH E'\n' FROM notes || E'\n' || $7),
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status IN ($8, $9)
		RETURNING `+appointmentColumns,
		tenantID, id, start, end, durationMinutes, model.StatusPendingConfirmation, auditNote,
		model.StatusPendingConfirmation, model.StatusConfirmed)
}

// ListPendingBetween returns pending holds overlapping [from, to). Pending
// records have no calendar artifact yet, so they consume availability only
// through this query.
func (r *AppointmentRepository) ListPendingBetween(ctx context.Context, tenantID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND status = $2
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, model.StatusPendingConfirmation, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// FindByIdempotencyKey returns the appointment a booking key was first used
// for, so a retried request gets the original record instead of a double
// booking.
func (r *AppointmentRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN booking_idempotency_keys k ON k.appointment_id = a.id
		WHERE k.tenant_id = $1 AND k.idem_key = $2
	`, tenantID, key)
	return scanAppointment(row)
}

// SaveIdempotencyKey records the key-to-appointment mapping. A concurrent
// insert of the same key wins silently; both requests were booking the same
// thing.
func (r *AppointmentRepository) SaveIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idem_key, appointment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, idem_key) DO NOTHING
	`, tenantID, key, appointmentID)
	return err
}

func (r *AppointmentRepository) mutate(ctx context.Context, events []outbox.Event, sql string, args ...any) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.insertEvents(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) insertEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// IsConflict reports an exclusion- or unique-constraint violation, the
// database's answer to two live bookings claiming the same interval.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
