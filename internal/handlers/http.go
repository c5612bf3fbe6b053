package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reverb-labs/schedcore/internal/availability"
	"github.com/reverb-labs/schedcore/internal/engine"
	"github.com/reverb-labs/schedcore/internal/localtime"
	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/policy"
	"github.com/reverb-labs/schedcore/internal/storage"
)

// Scheduler is the engine surface the HTTP layer drives. Implemented by
// *engine.Engine.
type Scheduler interface {
	CheckAvailability(ctx context.Context, tenantID string, start time.Time, durationMinutes int) (engine.AvailabilityResult, error)
	FindSlots(ctx context.Context, tenantID string, searchFrom time.Time, count, durationMinutes int) ([]availability.Slot, error)
	BookAppointment(ctx context.Context, tenantID string, start time.Time, durationMinutes int, details engine.BookingDetails) (model.Appointment, error)
	ConfirmAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, tenantID, appointmentID, reason string) (model.Appointment, error)
	RescheduleAppointment(ctx context.Context, tenantID, appointmentID string, newStart time.Time, durationMinutes int, reason string) (model.Appointment, error)
	BlockPeriod(ctx context.Context, tenantID string, start, end time.Time, blockType, reason string) (model.CalendarBlock, error)
	UnblockPeriod(ctx context.Context, tenantID, blockID string) error
	ListAppointments(ctx context.Context, tenantID, status string, limit int) ([]model.Appointment, error)
	ListBlocks(ctx context.Context, tenantID string, limit int) ([]model.CalendarBlock, error)
}

// PolicyStore persists tenant policies for the management endpoints.
type PolicyStore interface {
	Get(ctx context.Context, tenantID string) (model.TenantPolicy, error)
	Upsert(ctx context.Context, p model.TenantPolicy) error
}

// IdempotencyStore maps booking idempotency keys to previously created
// appointments. Implemented by *storage.AppointmentRepository. A nil store
// disables replay detection.
type IdempotencyStore interface {
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Appointment, error)
	SaveIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error
}

type Handler struct {
	sched       Scheduler
	policies    policy.Provider
	policyStore PolicyStore
	idem        IdempotencyStore
}

func New(sched Scheduler, policies policy.Provider, policyStore PolicyStore, idem IdempotencyStore) *Handler {
	return &Handler{sched: sched, policies: policies, policyStore: policyStore, idem: idem}
}

func tenantIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
}

// parseTime accepts either an RFC3339 instant or a local wall-clock time
// ("2006-01-02T15:04:05") resolved against zone, falling back to the tenant's
// policy zone when none is given.
func (h *Handler) parseTime(ctx context.Context, tenantID, value, zone string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if zone == "" {
		pol, err := h.policies.PolicyFor(ctx, tenantID)
		if err != nil {
			return time.Time{}, err
		}
		zone = pol.Timezone
	}
	return localtime.ToUTC(value, zone)
}

func writeEngineError(w http.ResponseWriter, err error) {
	var pc *engine.PersistenceConflictError
	switch {
	case errors.As(err, &pc):
		status := http.StatusBadGateway
		msg := "record persistence failed after calendar write"
		if errors.Is(err, engine.ErrSlotNoLongerAvailable) {
			status = http.StatusConflict
			msg = "slot no longer available"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             msg,
			"calendar_event_id": pc.EventID,
		})
	case errors.Is(err, engine.ErrSlotNoLongerAvailable):
		http.Error(w, "slot no longer available", http.StatusConflict)
	case errors.Is(err, engine.ErrInvalidTransition):
		http.Error(w, "invalid state transition", http.StatusConflict)
	case errors.Is(err, engine.ErrRecordNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrProviderUnavailable):
		http.Error(w, "calendar provider unavailable", http.StatusBadGateway)
	case errors.Is(err, localtime.ErrInvalidFormat), errors.Is(err, localtime.ErrAmbiguousOrInvalid):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func appointmentJSON(a model.Appointment) map[string]any {
	return map[string]any{
		"id":                a.ID,
		"tenant_id":         a.TenantID,
		"client_ref":        a.ClientRef,
		"service":           a.Service,
		"start_time":        a.Start.UTC().Format(time.RFC3339),
		"end_time":          a.End.UTC().Format(time.RFC3339),
		"duration_minutes":  a.DurationMinutes,
		"status":            a.Status,
		"calendar_event_id": a.CalendarEventID,
		"notes":             a.Notes,
	}
}

func blockJSON(b model.CalendarBlock) map[string]any {
	return map[string]any{
		"id":                b.ID,
		"tenant_id":         b.TenantID,
		"start_time":        b.Start.UTC().Format(time.RFC3339),
		"end_time":          b.End.UTC().Format(time.RFC3339),
		"block_type":        b.BlockType,
		"reason":            b.Reason,
		"status":            b.Status,
		"calendar_event_id": b.CalendarEventID,
	}
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartTime       string `json:"start_time"`
		Timezone        string `json:"timezone"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.StartTime) == "" {
		http.Error(w, "start_time is required", http.StatusBadRequest)
		return
	}

	start, err := h.parseTime(r.Context(), tenantID, req.StartTime, strings.TrimSpace(req.Timezone))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := h.sched.CheckAvailability(r.Context(), tenantID, start, req.DurationMinutes)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	conflicts := make([]map[string]any, 0, len(res.Conflicts))
	for _, c := range res.Conflicts {
		conflicts = append(conflicts, map[string]any{
			"start_time": c.Start.UTC().Format(time.RFC3339),
			"end_time":   c.End.UTC().Format(time.RFC3339),
			"kind":       c.Kind,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"available": res.Available,
		"conflicts": conflicts,
	})
}

func (h *Handler) FindSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}
	from, err := h.parseTime(r.Context(), tenantID, fromStr, strings.TrimSpace(q.Get("timezone")))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	count := 0
	if v := strings.TrimSpace(q.Get("count")); v != "" {
		count, err = strconv.Atoi(v)
		if err != nil || count < 0 {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
	}
	duration := 0
	if v := strings.TrimSpace(q.Get("duration_minutes")); v != "" {
		duration, err = strconv.Atoi(v)
		if err != nil || duration < 0 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
	}

	slots, err := h.sched.FindSlots(r.Context(), tenantID, from, count, duration)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		out = append(out, map[string]any{
			"start_time":       s.Start.UTC().Format(time.RFC3339),
			"end_time":         s.End.UTC().Format(time.RFC3339),
			"duration_minutes": s.DurationMinutes,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"slots": out})
}

func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartTime       string `json:"start_time"`
		Timezone        string `json:"timezone"`
		DurationMinutes int    `json:"duration_minutes"`
		ClientRef       string `json:"client_ref"`
		Service         string `json:"service"`
		Notes           string `json:"notes"`
		Confirm         bool   `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	req.Service = strings.TrimSpace(req.Service)
	if strings.TrimSpace(req.StartTime) == "" || req.Service == "" {
		http.Error(w, "start_time and service are required", http.StatusBadRequest)
		return
	}

	start, err := h.parseTime(r.Context(), tenantID, req.StartTime, strings.TrimSpace(req.Timezone))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.idem != nil {
		prior, err := h.idem.FindByIdempotencyKey(r.Context(), tenantID, idemKey)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(appointmentJSON(prior))
			return
		}
		if !storage.IsNotFound(err) {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	appt, err := h.sched.BookAppointment(r.Context(), tenantID, start, req.DurationMinutes, engine.BookingDetails{
		ClientRef: req.ClientRef,
		Service:   req.Service,
		Notes:     strings.TrimSpace(req.Notes),
		Confirm:   req.Confirm,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if idemKey != "" && h.idem != nil {
		// The booking itself succeeded; losing the key only costs dedup on a
		// later retry.
		_ = h.idem.SaveIdempotencyKey(r.Context(), tenantID, idemKey, appt.ID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(appointmentJSON(appt))
}

func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.sched.ConfirmAppointment(r.Context(), tenantID, req.AppointmentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(appointmentJSON(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		AppointmentID string `json:"appointment_id"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.sched.CancelAppointment(r.Context(), tenantID, req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(appointmentJSON(appt))
}

func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		AppointmentID   string `json:"appointment_id"`
		NewStartTime    string `json:"new_start_time"`
		Timezone        string `json:"timezone"`
		DurationMinutes int    `json:"duration_minutes"`
		Reason          string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" || strings.TrimSpace(req.NewStartTime) == "" {
		http.Error(w, "appointment_id and new_start_time are required", http.StatusBadRequest)
		return
	}

	newStart, err := h.parseTime(r.Context(), tenantID, req.NewStartTime, strings.TrimSpace(req.Timezone))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	appt, err := h.sched.RescheduleAppointment(r.Context(), tenantID, req.AppointmentID, newStart, req.DurationMinutes, strings.TrimSpace(req.Reason))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(appointmentJSON(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", model.StatusPendingConfirmation, model.StatusConfirmed, model.StatusCancelled, model.StatusCompleted:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	appts, err := h.sched.ListAppointments(r.Context(), tenantID, status, 100)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(appts))
	for _, a := range appts {
		out = append(out, appointmentJSON(a))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"appointments": out})
}

func (h *Handler) Blocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBlocks(w, r)
	case http.MethodPost:
		h.createBlock(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	blocks, err := h.sched.ListBlocks(r.Context(), tenantID, 100)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockJSON(b))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"blocks": out})
}

func (h *Handler) createBlock(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Timezone  string `json:"timezone"`
		BlockType string `json:"block_type"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.StartTime) == "" || strings.TrimSpace(req.EndTime) == "" {
		http.Error(w, "start_time and end_time are required", http.StatusBadRequest)
		return
	}

	zone := strings.TrimSpace(req.Timezone)
	start, err := h.parseTime(r.Context(), tenantID, req.StartTime, zone)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	end, err := h.parseTime(r.Context(), tenantID, req.EndTime, zone)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	block, err := h.sched.BlockPeriod(r.Context(), tenantID, start, end, strings.TrimSpace(req.BlockType), strings.TrimSpace(req.Reason))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(blockJSON(block))
}

func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		BlockID string `json:"block_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BlockID = strings.TrimSpace(req.BlockID)
	if req.BlockID == "" {
		http.Error(w, "block_id is required", http.StatusBadRequest)
		return
	}

	if err := h.sched.UnblockPeriod(r.Context(), tenantID, req.BlockID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getPolicy(w, r)
	case http.MethodPut:
		h.putPolicy(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func policyJSON(p model.TenantPolicy) map[string]any {
	days := make([]int, 0, len(p.WorkDays))
	for _, d := range p.WorkDays {
		days = append(days, int(d))
	}
	return map[string]any{
		"tenant_id":                p.TenantID,
		"timezone":                 p.Timezone,
		"work_days":                days,
		"work_start_minute":        p.WorkStartMinute,
		"work_end_minute":          p.WorkEndMinute,
		"slot_minutes":             p.SlotMinutes,
		"calendar_id":              p.CalendarID,
		"default_duration_minutes": p.DefaultDurationMinutes,
	}
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	pol, err := h.policies.PolicyFor(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "failed to load policy", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(policyJSON(pol))
}

func (h *Handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFromHeader(r)
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Timezone               string `json:"timezone"`
		WorkDays               []int  `json:"work_days"`
		WorkStartMinute        int    `json:"work_start_minute"`
		WorkEndMinute          int    `json:"work_end_minute"`
		SlotMinutes            int    `json:"slot_minutes"`
		CalendarID             string `json:"calendar_id"`
		DefaultDurationMinutes int    `json:"default_duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	pol := model.DefaultPolicy(tenantID)
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		pol.Timezone = tz
	}
	if len(req.WorkDays) > 0 {
		pol.WorkDays = pol.WorkDays[:0]
		for _, d := range req.WorkDays {
			if d < 0 || d > 6 {
				http.Error(w, "work_days entries must be between 0 and 6", http.StatusBadRequest)
				return
			}
			pol.WorkDays = append(pol.WorkDays, time.Weekday(d))
		}
	}
	if req.WorkStartMinute > 0 || req.WorkEndMinute > 0 {
		pol.WorkStartMinute = req.WorkStartMinute
		pol.WorkEndMinute = req.WorkEndMinute
	}
	if req.SlotMinutes > 0 {
		pol.SlotMinutes = req.SlotMinutes
	}
	if id := strings.TrimSpace(req.CalendarID); id != "" {
		pol.CalendarID = id
	}
	if req.DefaultDurationMinutes > 0 {
		pol.DefaultDurationMinutes = req.DefaultDurationMinutes
	}
	if err := pol.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.policyStore.Upsert(r.Context(), pol); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "policy update conflicts with existing data", http.StatusConflict)
			return
		}
		http.Error(w, "failed to update policy", http.StatusInternalServerError)
		return
	}
	// Cached reads pick up the new policy on the next miss.
	if inv, ok := h.policies.(interface {
		Invalidate(ctx context.Context, tenantID string) error
	}); ok {
		_ = inv.Invalidate(r.Context(), tenantID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(policyJSON(pol))
}

// Register wires every route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/availability/check", h.CheckAvailability)
	mux.HandleFunc("/api/v1/slots", h.FindSlots)
	mux.HandleFunc("/api/v1/appointments/book", h.BookAppointment)
	mux.HandleFunc("/api/v1/appointments/confirm", h.ConfirmAppointment)
	mux.HandleFunc("/api/v1/appointments/cancel", h.CancelAppointment)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.RescheduleAppointment)
	mux.HandleFunc("/api/v1/appointments", h.ListAppointments)
	mux.HandleFunc("/api/v1/blocks", h.Blocks)
	mux.HandleFunc("/api/v1/blocks/delete", h.DeleteBlock)
	mux.HandleFunc("/api/v1/policy", h.Policy)
}
