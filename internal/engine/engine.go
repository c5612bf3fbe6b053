// Package engine drives the appointment lifecycle: slot computation, conflict
// checks, and the multi-step transitions that keep the external calendar and
// the persisted record consistent.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reverb-labs/schedcore/internal/availability"
	"github.com/reverb-labs/schedcore/internal/calendar"
	"github.com/reverb-labs/schedcore/internal/localtime"
	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/outbox"
	"github.com/reverb-labs/schedcore/internal/policy"
	"github.com/reverb-labs/schedcore/internal/storage"
)

// searchHorizon bounds how far FindSlots scans past the requested start.
const searchHorizon = 60 * 24 * time.Hour

// maxSlotResults caps one findSlots response.
const maxSlotResults = 50

// AppointmentStore is the persistence surface for appointment records.
// Implemented by storage.AppointmentRepository; faked in tests.
type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment, events ...outbox.Event) (string, error)
	Get(ctx context.Context, tenantID, id string) (model.Appointment, error)
	SetConfirmed(ctx context.Context, tenantID, id, calendarEventID string, events ...outbox.Event) (model.Appointment, error)
	SetCancelled(ctx context.Context, tenantID, id, reason string, events ...outbox.Event) (model.Appointment, error)
	Reschedule(ctx context.Context, tenantID, id string, start, end time.Time, durationMinutes int, auditNote string, events ...outbox.Event) (model.Appointment, error)
	ListPendingBetween(ctx context.Context, tenantID string, from, to time.Time) ([]model.Appointment, error)
	ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]model.Appointment, error)
}

// BlockStore is the persistence surface for calendar blocks.
type BlockStore interface {
	Create(ctx context.Context, block *model.CalendarBlock, events ...outbox.Event) (string, error)
	Get(ctx context.Context, tenantID, id string) (model.CalendarBlock, error)
	SetDeleted(ctx context.Context, tenantID, id string, events ...outbox.Event) (model.CalendarBlock, error)
	ListActive(ctx context.Context, tenantID string, limit int) ([]model.CalendarBlock, error)
}

type Engine struct {
	appointments AppointmentStore
	blocks       BlockStore
	provider     calendar.Provider
	policies     policy.Provider
	logger       *slog.Logger
	now          func() time.Time
}

func New(appointments AppointmentStore, blocks BlockStore, provider calendar.Provider, policies policy.Provider, logger *slog.Logger) *Engine {
	return &Engine{
		appointments: appointments,
		blocks:       blocks,
		provider:     provider,
		policies:     policies,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// BookingDetails carries the client-facing fields of a booking request.
type BookingDetails struct {
	ClientRef string
	Service   string
	Notes     string

	// Confirm selects the immediate-booking flow: the calendar artifact is
	// created up front and the record lands directly in confirmed. Without
	// it the record is a tentative hold pending confirmation.
	Confirm bool
}

// AvailabilityResult is the answer to a single-slot availability question.
type AvailabilityResult struct {
	Available bool
	Conflicts []availability.BusyInterval
}

// CheckAvailability tests one candidate interval against the current busy
// snapshot. The result is advisory; booking re-checks authoritatively.
func (e *Engine) CheckAvailability(ctx context.Context, tenantID string, start time.Time, durationMinutes int) (AvailabilityResult, error) {
	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return AvailabilityResult{}, err
	}
	if durationMinutes <= 0 {
		durationMinutes = pol.DefaultDurationMinutes
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	busy, err := e.busyIntervals(ctx, pol, start, end, "", "")
	if err != nil {
		return AvailabilityResult{}, err
	}
	ok, conflicts := availability.CheckSlot(availability.Interval{Start: start, End: end}, busy)
	return AvailabilityResult{Available: ok, Conflicts: conflicts}, nil
}

// FindSlots enumerates up to count bookable slots at the tenant's granularity,
// starting at searchFrom.
func (e *Engine) FindSlots(ctx context.Context, tenantID string, searchFrom time.Time, count, durationMinutes int) ([]availability.Slot, error) {
	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if durationMinutes <= 0 {
		durationMinutes = pol.DefaultDurationMinutes
	}
	if count <= 0 || count > maxSlotResults {
		count = maxSlotResults
	}
	if now := e.now(); searchFrom.Before(now) {
		searchFrom = now
	}
	to := searchFrom.Add(searchHorizon)

	busy, err := e.busyIntervals(ctx, pol, searchFrom, to, "", "")
	if err != nil {
		return nil, err
	}
	duration := time.Duration(durationMinutes) * time.Minute
	return availability.FindSlots(pol, busy, searchFrom, to, duration, count), nil
}

// BookAppointment creates a new record for the given slot: a tentative hold
// (pending confirmation, no calendar artifact) or, with details.Confirm, a
// confirmed booking whose artifact is created first.
func (e *Engine) BookAppointment(ctx context.Context, tenantID string, start time.Time, durationMinutes int, details BookingDetails) (model.Appointment, error) {
	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	if durationMinutes <= 0 {
		durationMinutes = pol.DefaultDurationMinutes
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	busy, err := e.busyIntervals(ctx, pol, start, end, "", "")
	if err != nil {
		return model.Appointment{}, err
	}
	if ok, conflicts := availability.CheckSlot(availability.Interval{Start: start, End: end}, busy); !ok {
		return model.Appointment{}, fmt.Errorf("%w: %d conflicting interval(s)", ErrSlotNoLongerAvailable, len(conflicts))
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ClientRef:       details.ClientRef,
		Service:         details.Service,
		Start:           start.UTC(),
		End:             end.UTC(),
		DurationMinutes: durationMinutes,
		Status:          model.StatusPendingConfirmation,
		Notes:           details.Notes,
	}

	if !details.Confirm {
		if _, err := e.appointments.Create(ctx, &appt, e.appointmentEvent(outbox.EventAppointmentBooked, &appt)); err != nil {
			if storage.IsConflict(err) {
				return model.Appointment{}, fmt.Errorf("%w: interval already held", ErrSlotNoLongerAvailable)
			}
			return model.Appointment{}, err
		}
		return appt, nil
	}

	// Direct booking: the calendar insert is the authoritative conflict
	// check, so it happens before anything is persisted.
	eventID, err := e.provider.InsertEvent(ctx, pol.CalendarID, e.eventInput(pol, appt))
	if err != nil {
		return model.Appointment{}, e.mapProviderError(err)
	}

	appt.Status = model.StatusConfirmed
	appt.CalendarEventID = eventID
	if _, err := e.appointments.Create(ctx, &appt, e.appointmentEvent(outbox.EventAppointmentConfirmed, &appt)); err != nil {
		if storage.IsConflict(err) {
			// The artifact exists but the record lost the race. Surface the
			// event id for reconciliation instead of discarding it.
			return model.Appointment{}, &PersistenceConflictError{
				EventID:         eventID,
				AttemptedStatus: model.StatusConfirmed,
				Err:             ErrSlotNoLongerAvailable,
			}
		}
		return model.Appointment{}, &PersistenceConflictError{
			EventID:         eventID,
			AttemptedStatus: model.StatusConfirmed,
			Err:             err,
		}
	}
	return appt, nil
}

// ConfirmAppointment moves a pending hold to confirmed. The calendar artifact
// is created from the times already on the record; times resubmitted with the
// confirmation are ignored, so confirming can never silently move a booking.
func (e *Engine) ConfirmAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	appt, err := e.appointments.Get(ctx, tenantID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrRecordNotFound
		}
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPendingConfirmation {
		return model.Appointment{}, fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidTransition, appt.Status)
	}

	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	eventID, err := e.provider.InsertEvent(ctx, pol.CalendarID, e.eventInput(pol, appt))
	if err != nil {
		return model.Appointment{}, e.mapProviderError(err)
	}

	attempted := appt
	attempted.Status = model.StatusConfirmed
	attempted.CalendarEventID = eventID
	confirmed, err := e.appointments.SetConfirmed(ctx, tenantID, appointmentID, eventID,
		e.appointmentEvent(outbox.EventAppointmentConfirmed, &attempted))
	if err != nil {
		return model.Appointment{}, &PersistenceConflictError{
			EventID:         eventID,
			AttemptedStatus: model.StatusConfirmed,
			Err:             err,
		}
	}
	return confirmed, nil
}

// CancelAppointment deletes the calendar artifact (when present) and then
// marks the record cancelled. A failed artifact deletion aborts the
// transition: there is no local-only cancellation.
func (e *Engine) CancelAppointment(ctx context.Context, tenantID, appointmentID, reason string) (model.Appointment, error) {
	appt, err := e.appointments.Get(ctx, tenantID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrRecordNotFound
		}
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPendingConfirmation && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, appt.Status)
	}

	if appt.CalendarEventID != "" {
		if err := e.provider.DeleteEvent(ctx, e.calendarIDFor(ctx, tenantID), appt.CalendarEventID); err != nil && !calendar.IsNotFound(err) {
			return model.Appointment{}, e.mapProviderError(err)
		}
	}

	cancelled, err := e.appointments.SetCancelled(ctx, tenantID, appointmentID, reason,
		e.cancelEvent(&appt, reason))
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		return model.Appointment{}, err
	}
	return cancelled, nil
}

// RescheduleAppointment moves an existing record to a new slot. The record's
// own interval is excluded from the conflict check, the record drops back to
// pending confirmation, and the old artifact is deleted best effort: an
// orphaned event is lower risk than blocking the new booking.
func (e *Engine) RescheduleAppointment(ctx context.Context, tenantID, appointmentID string, newStart time.Time, durationMinutes int, reason string) (model.Appointment, error) {
	appt, err := e.appointments.Get(ctx, tenantID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrRecordNotFound
		}
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPendingConfirmation && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	if durationMinutes <= 0 {
		durationMinutes = appt.DurationMinutes
	}
	newEnd := newStart.Add(time.Duration(durationMinutes) * time.Minute)

	busy, err := e.busyIntervals(ctx, pol, newStart, newEnd, appt.CalendarEventID, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if ok, _ := availability.CheckSlot(availability.Interval{Start: newStart, End: newEnd}, busy); !ok {
		return model.Appointment{}, fmt.Errorf("%w: requested interval is taken", ErrSlotNoLongerAvailable)
	}

	priorLocal, err := localtime.FromUTC(appt.Start, pol.Timezone)
	if err != nil {
		// The policy zone validated on load, so this only fires if the zone
		// database changed underneath us. Fall back to the UTC instant rather
		// than writing an empty audit note.
		priorLocal = appt.Start.UTC().Format(time.RFC3339)
	}
	auditNote := fmt.Sprintf("rescheduled from %s (%s)", priorLocal, pol.Timezone)
	if reason != "" {
		auditNote += ": " + reason
	}

	rescheduled, err := e.appointments.Reschedule(ctx, tenantID, appointmentID,
		newStart.UTC(), newEnd.UTC(), durationMinutes, auditNote,
		e.rescheduleEvent(&appt, newStart.UTC(), newEnd.UTC(), reason))
	if err != nil {
		switch {
		case storage.IsConflict(err):
			return model.Appointment{}, fmt.Errorf("%w: interval already held", ErrSlotNoLongerAvailable)
		case storage.IsNotFound(err):
			return model.Appointment{}, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		default:
			return model.Appointment{}, err
		}
	}

	if appt.CalendarEventID != "" {
		if err := e.provider.DeleteEvent(ctx, pol.CalendarID, appt.CalendarEventID); err != nil && !calendar.IsNotFound(err) {
			e.logger.Warn("orphaned calendar event after reschedule",
				"tenant_id", tenantID,
				"appointment_id", appointmentID,
				"event_id", appt.CalendarEventID,
				"err", err,
			)
		}
	}
	return rescheduled, nil
}

// BlockPeriod reserves a tenant-declared unavailable period: calendar artifact
// first, then the persisted record that availability reads.
func (e *Engine) BlockPeriod(ctx context.Context, tenantID string, start, end time.Time, blockType, reason string) (model.CalendarBlock, error) {
	if !end.After(start) {
		return model.CalendarBlock{}, fmt.Errorf("block end must be after start")
	}
	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil {
		return model.CalendarBlock{}, err
	}
	if blockType == "" {
		blockType = model.BlockTypeTimeOff
	}

	summary := "Blocked"
	if reason != "" {
		summary = "Blocked: " + reason
	}
	eventID, err := e.provider.InsertEvent(ctx, pol.CalendarID, calendar.EventInput{
		Summary:     summary,
		Description: "unavailable period (" + blockType + ")",
		Start:       start.UTC(),
		End:         end.UTC(),
		TimeZone:    pol.Timezone,
	})
	if err != nil {
		return model.CalendarBlock{}, e.mapProviderError(err)
	}

	block := model.CalendarBlock{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Start:           start.UTC(),
		End:             end.UTC(),
		BlockType:       blockType,
		Reason:          reason,
		CalendarEventID: eventID,
	}
	if _, err := e.blocks.Create(ctx, &block, e.blockEvent(outbox.EventPeriodBlocked, &block)); err != nil {
		return model.CalendarBlock{}, &PersistenceConflictError{
			EventID:         eventID,
			AttemptedStatus: model.BlockActive,
			Err:             err,
		}
	}
	return block, nil
}

// UnblockPeriod deletes the block's calendar artifact and soft-deletes the
// record.
func (e *Engine) UnblockPeriod(ctx context.Context, tenantID, blockID string) error {
	block, err := e.blocks.Get(ctx, tenantID, blockID)
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrRecordNotFound
		}
		return err
	}
	if block.Status != model.BlockActive {
		return fmt.Errorf("%w: block is already %s", ErrInvalidTransition, block.Status)
	}

	if block.CalendarEventID != "" {
		if err := e.provider.DeleteEvent(ctx, e.calendarIDFor(ctx, tenantID), block.CalendarEventID); err != nil && !calendar.IsNotFound(err) {
			return e.mapProviderError(err)
		}
	}

	if _, err := e.blocks.SetDeleted(ctx, tenantID, blockID, e.blockEvent(outbox.EventPeriodUnblocked, &block)); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("%w: block changed concurrently", ErrInvalidTransition)
		}
		return err
	}
	return nil
}

func (e *Engine) ListAppointments(ctx context.Context, tenantID, status string, limit int) ([]model.Appointment, error) {
	return e.appointments.ListByTenant(ctx, tenantID, status, limit)
}

func (e *Engine) ListBlocks(ctx context.Context, tenantID string, limit int) ([]model.CalendarBlock, error) {
	return e.blocks.ListActive(ctx, tenantID, limit)
}

// busyIntervals assembles the busy snapshot for a window: calendar events
// (confirmed appointments and blocks both live there) plus pending holds,
// which have no artifact yet but occupy availability as soon as they exist in
// the store. excludeEventID/excludeApptID drop a record's own footprint when
// rescheduling.
func (e *Engine) busyIntervals(ctx context.Context, pol model.TenantPolicy, from, to time.Time, excludeEventID, excludeApptID string) ([]availability.BusyInterval, error) {
	events, err := e.provider.ListEvents(ctx, pol.CalendarID, from, to)
	if err != nil {
		return nil, e.mapProviderError(err)
	}

	busy := make([]availability.BusyInterval, 0, len(events))
	for _, ev := range events {
		if ev.ID == excludeEventID && excludeEventID != "" {
			continue
		}
		if ev.Start.IsZero() || !ev.End.After(ev.Start) {
			// A malformed event still occupies provider-side time. Skipping it
			// frees the interval here, so leave a trail for reconciliation.
			e.logger.Warn("skipping calendar event with unusable times",
				"calendar_id", pol.CalendarID, "event_id", ev.ID)
			continue
		}
		busy = append(busy, availability.BusyInterval{
			Start:    ev.Start,
			End:      ev.End,
			Kind:     availability.KindAppointment,
			SourceID: ev.ID,
		})
	}

	pending, err := e.appointments.ListPendingBetween(ctx, pol.TenantID, from, to)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.ID == excludeApptID && excludeApptID != "" {
			continue
		}
		busy = append(busy, availability.BusyInterval{
			Start:    p.Start,
			End:      p.End,
			Kind:     availability.KindAppointment,
			SourceID: p.ID,
		})
	}
	return busy, nil
}

func (e *Engine) eventInput(pol model.TenantPolicy, appt model.Appointment) calendar.EventInput {
	summary := appt.Service
	if appt.ClientRef != "" {
		summary = fmt.Sprintf("%s - %s", appt.Service, appt.ClientRef)
	}
	return calendar.EventInput{
		Summary:     summary,
		Description: appt.Notes,
		Start:       appt.Start,
		End:         appt.End,
		TimeZone:    pol.Timezone,
	}
}

func (e *Engine) mapProviderError(err error) error {
	switch {
	case calendar.IsConflict(err):
		return fmt.Errorf("%w: provider rejected the interval", ErrSlotNoLongerAvailable)
	case calendar.IsNotFound(err):
		return fmt.Errorf("%w: calendar event missing", ErrRecordNotFound)
	default:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
}

// calendarIDFor resolves the tenant's calendar for artifact deletion. Policy
// load failures fall back to the primary calendar rather than blocking a
// cancellation.
func (e *Engine) calendarIDFor(ctx context.Context, tenantID string) string {
	pol, err := e.policies.PolicyFor(ctx, tenantID)
	if err != nil || pol.CalendarID == "" {
		return "primary"
	}
	return pol.CalendarID
}

func (e *Engine) appointmentEvent(eventType string, appt *model.Appointment) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"tenant_id":      appt.TenantID,
		"client_ref":     appt.ClientRef,
		"service":        appt.Service,
		"start_time":     appt.Start.UTC().Format(time.RFC3339),
		"end_time":       appt.End.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func (e *Engine) cancelEvent(appt *model.Appointment, reason string) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"tenant_id":      appt.TenantID,
		"start_time":     appt.Start.UTC().Format(time.RFC3339),
		"end_time":       appt.End.UTC().Format(time.RFC3339),
		"reason":         reason,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}
}

func (e *Engine) rescheduleEvent(appt *model.Appointment, newStart, newEnd time.Time, reason string) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"tenant_id":      appt.TenantID,
		"old_start_time": appt.Start.UTC().Format(time.RFC3339),
		"old_end_time":   appt.End.UTC().Format(time.RFC3339),
		"new_start_time": newStart.Format(time.RFC3339),
		"new_end_time":   newEnd.Format(time.RFC3339),
		"reason":         reason,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentRescheduled,
		Payload:       payload,
	}
}

func (e *Engine) blockEvent(eventType string, block *model.CalendarBlock) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"block_id":   block.ID,
		"tenant_id":  block.TenantID,
		"start_time": block.Start.UTC().Format(time.RFC3339),
		"end_time":   block.End.UTC().Format(time.RFC3339),
		"block_type": block.BlockType,
		"reason":     block.Reason,
	})
	return outbox.Event{
		AggregateType: "calendar_block",
		AggregateID:   block.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
