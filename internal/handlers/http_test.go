package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reverb-labs/schedcore/internal/availability"
	"github.com/reverb-labs/schedcore/internal/engine"
	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/policy"
)

type stubScheduler struct {
	appt  model.Appointment
	block model.CalendarBlock
	res   engine.AvailabilityResult
	slots []availability.Slot
	err   error

	gotStart    time.Time
	gotDuration int
	gotDetails  engine.BookingDetails
	gotReason   string
}

func (s *stubScheduler) CheckAvailability(_ context.Context, _ string, start time.Time, durationMinutes int) (engine.AvailabilityResult, error) {
	s.gotStart, s.gotDuration = start, durationMinutes
	return s.res, s.err
}

func (s *stubScheduler) FindSlots(_ context.Context, _ string, searchFrom time.Time, _, durationMinutes int) ([]availability.Slot, error) {
	s.gotStart, s.gotDuration = searchFrom, durationMinutes
	return s.slots, s.err
}

func (s *stubScheduler) BookAppointment(_ context.Context, _ string, start time.Time, durationMinutes int, details engine.BookingDetails) (model.Appointment, error) {
	s.gotStart, s.gotDuration, s.gotDetails = start, durationMinutes, details
	return s.appt, s.err
}

func (s *stubScheduler) ConfirmAppointment(context.Context, string, string) (model.Appointment, error) {
	return s.appt, s.err
}

func (s *stubScheduler) CancelAppointment(_ context.Context, _, _, reason string) (model.Appointment, error) {
	s.gotReason = reason
	return s.appt, s.err
}

func (s *stubScheduler) RescheduleAppointment(_ context.Context, _, _ string, newStart time.Time, durationMinutes int, reason string) (model.Appointment, error) {
	s.gotStart, s.gotDuration, s.gotReason = newStart, durationMinutes, reason
	return s.appt, s.err
}

func (s *stubScheduler) BlockPeriod(context.Context, string, time.Time, time.Time, string, string) (model.CalendarBlock, error) {
	return s.block, s.err
}

func (s *stubScheduler) UnblockPeriod(context.Context, string, string) error {
	return s.err
}

func (s *stubScheduler) ListAppointments(context.Context, string, string, int) ([]model.Appointment, error) {
	return []model.Appointment{s.appt}, s.err
}

func (s *stubScheduler) ListBlocks(context.Context, string, int) ([]model.CalendarBlock, error) {
	return []model.CalendarBlock{s.block}, s.err
}

type stubPolicyStore struct {
	upserted *model.TenantPolicy
}

func (s *stubPolicyStore) Get(_ context.Context, tenantID string) (model.TenantPolicy, error) {
	return model.DefaultPolicy(tenantID), nil
}

func (s *stubPolicyStore) Upsert(_ context.Context, p model.TenantPolicy) error {
	s.upserted = &p
	return nil
}

type stubIdemStore struct {
	existing map[string]model.Appointment
	saved    map[string]string
}

func (s *stubIdemStore) FindByIdempotencyKey(_ context.Context, _, key string) (model.Appointment, error) {
	if appt, ok := s.existing[key]; ok {
		return appt, nil
	}
	return model.Appointment{}, pgx.ErrNoRows
}

func (s *stubIdemStore) SaveIdempotencyKey(_ context.Context, _, key, appointmentID string) error {
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[key] = appointmentID
	return nil
}

func newTestHandler(sched *stubScheduler) (*Handler, *stubPolicyStore) {
	pol := model.DefaultPolicy("tenant-1")
	pol.Timezone = "America/Chicago"
	store := &stubPolicyStore{}
	return New(sched, policy.NewStaticProvider(pol), store, nil), store
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-Tenant-Id", "tenant-1")
	rw := httptest.NewRecorder()
	handler(rw, req)
	return rw
}

func TestBookAppointment_MissingTenantHeader(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/book", bytes.NewBufferString("{}"))
	rw := httptest.NewRecorder()
	h.BookAppointment(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestBookAppointment_WallClockTime(t *testing.T) {
	sched := &stubScheduler{appt: model.Appointment{ID: "a1", Status: model.StatusPendingConfirmation}}
	h, _ := newTestHandler(sched)

	rw := doJSON(t, h.BookAppointment, http.MethodPost, "/api/v1/appointments/book", map[string]any{
		"start_time": "2026-03-02T10:00:00",
		"timezone":   "America/Chicago",
		"service":    "consultation",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}

	loc, _ := time.LoadLocation("America/Chicago")
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, loc).UTC()
	if !sched.gotStart.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, sched.gotStart)
	}
	if sched.gotStart.Location() != time.UTC {
		t.Fatal("engine must receive UTC instants")
	}

	var resp map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "a1" {
		t.Fatalf("expected id a1, got %v", resp["id"])
	}
}

func TestBookAppointment_IdempotencyKeyReplays(t *testing.T) {
	sched := &stubScheduler{appt: model.Appointment{ID: "a1", Status: model.StatusPendingConfirmation}}
	pol := model.DefaultPolicy("tenant-1")
	idem := &stubIdemStore{}
	h := New(sched, policy.NewStaticProvider(pol), &stubPolicyStore{}, idem)

	body := map[string]any{
		"start_time": "2026-03-02T16:00:00Z",
		"service":    "consultation",
	}
	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/book", &buf)
		req.Header.Set("X-Tenant-Id", "tenant-1")
		req.Header.Set("Idempotency-Key", "key-1")
		rw := httptest.NewRecorder()
		h.BookAppointment(rw, req)
		return rw
	}

	rw := send()
	if rw.Code != http.StatusCreated {
		t.Fatalf("first booking should be 201, got %d: %s", rw.Code, rw.Body.String())
	}
	if idem.saved["key-1"] != "a1" {
		t.Fatalf("expected key mapped to a1, got %q", idem.saved["key-1"])
	}

	idem.existing = map[string]model.Appointment{"key-1": sched.appt}
	sched.err = engine.ErrSlotNoLongerAvailable
	rw = send()
	if rw.Code != http.StatusOK {
		t.Fatalf("replay should return 200 with the original record, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "a1" {
		t.Fatalf("expected original appointment a1, got %v", resp["id"])
	}
}

func TestBookAppointment_DefaultsToPolicyZone(t *testing.T) {
	sched := &stubScheduler{appt: model.Appointment{ID: "a1"}}
	h, _ := newTestHandler(sched)

	rw := doJSON(t, h.BookAppointment, http.MethodPost, "/api/v1/appointments/book", map[string]any{
		"start_time": "2026-03-02T10:00:00",
		"service":    "consultation",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	loc, _ := time.LoadLocation("America/Chicago")
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, loc).UTC()
	if !sched.gotStart.Equal(want) {
		t.Fatalf("expected start resolved in the tenant zone (%s), got %s", want, sched.gotStart)
	}
}

func TestBookAppointment_GapTimeRejected(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	rw := doJSON(t, h.BookAppointment, http.MethodPost, "/api/v1/appointments/book", map[string]any{
		"start_time": "2026-03-08T02:30:00",
		"timezone":   "America/Chicago",
		"service":    "consultation",
	})
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("nonexistent local time must be 422, got %d", rw.Code)
	}
}

func TestBookAppointment_SlotTaken(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{err: engine.ErrSlotNoLongerAvailable})
	rw := doJSON(t, h.BookAppointment, http.MethodPost, "/api/v1/appointments/book", map[string]any{
		"start_time": "2026-03-02T10:00:00Z",
		"service":    "consultation",
	})
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestBookAppointment_PersistenceConflictCarriesEventID(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{err: &engine.PersistenceConflictError{
		EventID:         "evt-9",
		AttemptedStatus: model.StatusConfirmed,
		Err:             engine.ErrSlotNoLongerAvailable,
	}})
	rw := doJSON(t, h.BookAppointment, http.MethodPost, "/api/v1/appointments/book", map[string]any{
		"start_time": "2026-03-02T10:00:00Z",
		"service":    "consultation",
	})
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["calendar_event_id"] != "evt-9" {
		t.Fatalf("expected orphaned event id in body, got %v", resp)
	}
}

func TestConfirmAppointment_InvalidTransition(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{err: engine.ErrInvalidTransition})
	rw := doJSON(t, h.ConfirmAppointment, http.MethodPost, "/api/v1/appointments/confirm", map[string]any{
		"appointment_id": "a1",
	})
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestCancelAppointment_NotFound(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{err: engine.ErrRecordNotFound})
	rw := doJSON(t, h.CancelAppointment, http.MethodPost, "/api/v1/appointments/cancel", map[string]any{
		"appointment_id": "missing",
	})
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestCancelAppointment_ProviderDown(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{err: engine.ErrProviderUnavailable})
	rw := doJSON(t, h.CancelAppointment, http.MethodPost, "/api/v1/appointments/cancel", map[string]any{
		"appointment_id": "a1",
	})
	if rw.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rw.Code)
	}
}

func TestFindSlots(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	sched := &stubScheduler{slots: []availability.Slot{
		{Start: start, End: start.Add(time.Hour), DurationMinutes: 60},
	}}
	h, _ := newTestHandler(sched)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots?from=2026-03-02T09:00:00Z&count=3&duration_minutes=60", nil)
	req.Header.Set("X-Tenant-Id", "tenant-1")
	rw := httptest.NewRecorder()
	h.FindSlots(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if sched.gotDuration != 60 {
		t.Fatalf("expected duration 60, got %d", sched.gotDuration)
	}

	var resp struct {
		Slots []struct {
			StartTime string `json:"start_time"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Slots) != 1 || resp.Slots[0].StartTime != "2026-03-02T15:00:00Z" {
		t.Fatalf("unexpected slots payload: %+v", resp.Slots)
	}
}

func TestFindSlots_MissingFrom(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.Header.Set("X-Tenant-Id", "tenant-1")
	rw := httptest.NewRecorder()
	h.FindSlots(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestCheckAvailability_ReportsConflicts(t *testing.T) {
	busyStart := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	sched := &stubScheduler{res: engine.AvailabilityResult{
		Available: false,
		Conflicts: []availability.BusyInterval{
			{Start: busyStart, End: busyStart.Add(time.Hour), Kind: availability.KindAppointment},
		},
	}}
	h, _ := newTestHandler(sched)

	rw := doJSON(t, h.CheckAvailability, http.MethodPost, "/api/v1/availability/check", map[string]any{
		"start_time":       "2026-03-02T16:30:00Z",
		"duration_minutes": 30,
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp struct {
		Available bool `json:"available"`
		Conflicts []struct {
			Kind string `json:"kind"`
		} `json:"conflicts"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available || len(resp.Conflicts) != 1 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestCreateBlock_EndBeforeStart(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	rw := doJSON(t, h.Blocks, http.MethodPost, "/api/v1/blocks", map[string]any{
		"start_time": "2026-03-02T12:00:00Z",
		"end_time":   "2026-03-02T11:00:00Z",
	})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestDeleteBlock_NoContent(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	rw := doJSON(t, h.DeleteBlock, http.MethodPost, "/api/v1/blocks/delete", map[string]any{
		"block_id": "b1",
	})
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
}

func TestPutPolicy_Upserts(t *testing.T) {
	h, store := newTestHandler(&stubScheduler{})
	rw := doJSON(t, h.Policy, http.MethodPut, "/api/v1/policy", map[string]any{
		"timezone":     "Europe/Berlin",
		"work_days":    []int{1, 2, 3},
		"slot_minutes": 15,
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if store.upserted == nil {
		t.Fatal("expected policy to be persisted")
	}
	if store.upserted.Timezone != "Europe/Berlin" || store.upserted.SlotMinutes != 15 {
		t.Fatalf("unexpected persisted policy: %+v", store.upserted)
	}
	if len(store.upserted.WorkDays) != 3 {
		t.Fatalf("expected 3 work days, got %v", store.upserted.WorkDays)
	}
}

func TestPutPolicy_InvalidWorkday(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	rw := doJSON(t, h.Policy, http.MethodPut, "/api/v1/policy", map[string]any{
		"work_days": []int{9},
	})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestListAppointments_InvalidStatus(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?status=bogus", nil)
	req.Header.Set("X-Tenant-Id", "tenant-1")
	rw := httptest.NewRecorder()
	h.ListAppointments(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestMethodGuards(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{})
	cases := []struct {
		name    string
		handler http.HandlerFunc
		method  string
	}{
		{"book", h.BookAppointment, http.MethodGet},
		{"confirm", h.ConfirmAppointment, http.MethodGet},
		{"slots", h.FindSlots, http.MethodPost},
		{"blocks", h.Blocks, http.MethodDelete},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/x", nil)
		req.Header.Set("X-Tenant-Id", "tenant-1")
		rw := httptest.NewRecorder()
		tc.handler(rw, req)
		if rw.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", tc.name, rw.Code)
		}
	}
}
