package availability

import (
	"testing"
	"time"

	"github.com/reverb-labs/schedcore/internal/model"
)

func chicagoPolicy(t *testing.T) model.TenantPolicy {
	t.Helper()
	p := model.TenantPolicy{
		TenantID:        "tenant-1",
		Timezone:        "America/Chicago",
		WorkDays:        []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WorkStartMinute: 9 * 60,
		WorkEndMinute:   18 * 60,
		SlotMinutes:     30,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("policy invalid: %v", err)
	}
	return p
}

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return loc
}

func TestCheckSlot_AdjacentBusyDoesNotConflict(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	candidate := Interval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}
	busy := []BusyInterval{
		{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour), Kind: KindAppointment, SourceID: "a1"},
	}

	ok, conflicts := CheckSlot(candidate, busy)
	if !ok {
		t.Fatalf("expected 10:00-11:00 to be free next to 09:00-10:00, got conflicts %v", conflicts)
	}
}

func TestCheckSlot_OverlapConflicts(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	candidate := Interval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}
	busy := []BusyInterval{
		{Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(11*time.Hour + 30*time.Minute), Kind: KindBlock, SourceID: "b1"},
	}

	ok, conflicts := CheckSlot(candidate, busy)
	if ok {
		t.Fatal("expected overlap with 10:30-11:30 to conflict")
	}
	if len(conflicts) != 1 || conflicts[0].SourceID != "b1" {
		t.Fatalf("expected the block as the conflict, got %v", conflicts)
	}
}

func TestFindSlots_MorningRun(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	// Monday 2026-03-02, busy 14:00-15:00 local.
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	to := from.Add(7 * 24 * time.Hour)
	busy := []BusyInterval{
		{Start: time.Date(2026, 3, 2, 14, 0, 0, 0, loc).UTC(), End: time.Date(2026, 3, 2, 15, 0, 0, 0, loc).UTC(), Kind: KindAppointment},
	}

	slots := FindSlots(policy, busy, from, to, time.Hour, 3)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	want := []int{9, 10, 11}
	for i, s := range slots {
		local := s.Start.In(loc)
		if local.Hour() != want[i] || local.Minute() != 0 {
			t.Fatalf("slot %d: expected %02d:00 local, got %s", i, want[i], local.Format("15:04"))
		}
		if !s.End.Equal(s.Start.Add(time.Hour)) {
			t.Fatalf("slot %d: end does not match duration", i)
		}
	}
}

func TestFindSlots_LateRequestRollsToNextWorkDay(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	// Friday 17:30: a 60-minute slot cannot fit before 18:00. The next offer
	// is Monday 09:00.
	from := time.Date(2026, 3, 6, 17, 30, 0, 0, loc).UTC()
	to := from.Add(7 * 24 * time.Hour)

	ok, _ := CheckSlot(Interval{Start: from, End: from.Add(time.Hour)}, nil)
	if !ok {
		t.Fatal("conflict detector alone should pass; the work window check rejects it")
	}

	slots := FindSlots(policy, nil, from, to, time.Hour, 1)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	local := slots[0].Start.In(loc)
	if local.Weekday() != time.Monday || local.Hour() != 9 || local.Minute() != 0 {
		t.Fatalf("expected Monday 09:00, got %s %s", local.Weekday(), local.Format("15:04"))
	}
}

func TestFindSlots_SpringForwardDayKeepsWorkHours(t *testing.T) {
	loc := chicago(t)
	policy := model.TenantPolicy{
		TenantID:        "tenant-1",
		Timezone:        "America/Chicago",
		WorkDays:        []time.Weekday{time.Sunday},
		WorkStartMinute: 9 * 60,
		WorkEndMinute:   18 * 60,
		SlotMinutes:     30,
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("policy invalid: %v", err)
	}

	// Sunday 2026-03-08: clocks jump 02:00 -> 03:00, the local day is 23
	// hours. The first offer must still be 09:00 wall clock.
	from := time.Date(2026, 3, 8, 0, 0, 0, 0, loc).UTC()
	to := from.Add(48 * time.Hour)

	slots := FindSlots(policy, nil, from, to, time.Hour, 1)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	local := slots[0].Start.In(loc)
	if local.Day() != 8 || local.Hour() != 9 || local.Minute() != 0 {
		t.Fatalf("expected 09:00 local on the transition day, got %s", local.Format("2006-01-02 15:04"))
	}

	// Fall back, Sunday 2026-11-01: the 25-hour day must not pull the
	// window earlier than 09:00 either.
	from = time.Date(2026, 11, 1, 0, 0, 0, 0, loc).UTC()
	slots = FindSlots(policy, nil, from, from.Add(48*time.Hour), time.Hour, 1)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	local = slots[0].Start.In(loc)
	if local.Day() != 1 || local.Hour() != 9 || local.Minute() != 0 {
		t.Fatalf("expected 09:00 local on the fall-back day, got %s", local.Format("2006-01-02 15:04"))
	}
}

func TestFindSlots_ConflictRecoveryOnLocalGridInOffsetZone(t *testing.T) {
	// Kathmandu is UTC+05:45, so a grid anchored to the UTC epoch never
	// lines up with local half-hours. Recovery must snap to the day's
	// work_start grid instead.
	loc, err := time.LoadLocation("Asia/Kathmandu")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	policy := model.TenantPolicy{
		TenantID:        "tenant-1",
		Timezone:        "Asia/Kathmandu",
		WorkDays:        []time.Weekday{time.Monday},
		WorkStartMinute: 9 * 60,
		WorkEndMinute:   18 * 60,
		SlotMinutes:     30,
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("policy invalid: %v", err)
	}

	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	busy := []BusyInterval{
		{Start: from, End: time.Date(2026, 3, 2, 9, 40, 0, 0, loc).UTC(), Kind: KindBlock, SourceID: "b1"},
	}

	slots := FindSlots(policy, busy, from, from.Add(24*time.Hour), time.Hour, 1)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	local := slots[0].Start.In(loc)
	if local.Hour() != 10 || local.Minute() != 0 {
		t.Fatalf("expected recovery at 10:00 local, got %s", local.Format("15:04"))
	}
}

func TestFindSlots_ConflictAdvancesToRoundedEnd(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	// Busy 09:30-10:15. The cursor must land on 10:30 (conflict end rounded
	// up to the 30-minute grid), not scan minute by minute and not skip to
	// 11:00.
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	busy := []BusyInterval{
		{Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc).UTC(), End: time.Date(2026, 3, 2, 10, 15, 0, 0, loc).UTC(), Kind: KindAppointment},
	}

	slots := FindSlots(policy, busy, from, from.Add(24*time.Hour), 30*time.Minute, 2)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	first := slots[0].Start.In(loc)
	second := slots[1].Start.In(loc)
	if first.Format("15:04") != "09:00" {
		t.Fatalf("expected first slot 09:00, got %s", first.Format("15:04"))
	}
	if second.Format("15:04") != "10:30" {
		t.Fatalf("expected second slot 10:30, got %s", second.Format("15:04"))
	}
}

func TestFindSlots_SlotStartingAtConflictEnd(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	// Busy 09:30-10:00 on the grid: 10:00 starts exactly when the conflict
	// ends and must be offered.
	from := time.Date(2026, 3, 2, 9, 30, 0, 0, loc).UTC()
	busy := []BusyInterval{
		{Start: from, End: from.Add(30 * time.Minute), Kind: KindBlock},
	}

	slots := FindSlots(policy, busy, from, from.Add(12*time.Hour), 30*time.Minute, 1)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if got := slots[0].Start.In(loc).Format("15:04"); got != "10:00" {
		t.Fatalf("expected slot at 10:00, got %s", got)
	}
}

func TestFindSlots_DurationLongerThanWorkDay(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	slots := FindSlots(policy, nil, from, from.Add(30*24*time.Hour), 10*time.Hour, 5)
	if len(slots) != 0 {
		t.Fatalf("expected no slots for a 10h request in a 9h day, got %d", len(slots))
	}
}

func TestFindSlots_EmptyIsNotAnError(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	// A fully blocked day with the window ending before the next work day.
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	to := time.Date(2026, 3, 2, 18, 0, 0, 0, loc).UTC()
	busy := []BusyInterval{{Start: from, End: to, Kind: KindBlock}}

	slots := FindSlots(policy, busy, from, to, time.Hour, 10)
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestFindSlots_AllInsideWorkWindowAndDisjoint(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, loc).UTC()
	to := from.Add(14 * 24 * time.Hour)
	busy := []BusyInterval{
		{Start: time.Date(2026, 3, 2, 11, 0, 0, 0, loc).UTC(), End: time.Date(2026, 3, 2, 12, 30, 0, 0, loc).UTC(), Kind: KindAppointment},
		{Start: time.Date(2026, 3, 3, 9, 0, 0, 0, loc).UTC(), End: time.Date(2026, 3, 3, 18, 0, 0, 0, loc).UTC(), Kind: KindBlock},
		{Start: time.Date(2026, 3, 5, 16, 45, 0, 0, loc).UTC(), End: time.Date(2026, 3, 5, 17, 15, 0, 0, loc).UTC(), Kind: KindAppointment},
	}

	slots := FindSlots(policy, busy, from, to, 45*time.Minute, 50)
	if len(slots) == 0 {
		t.Fatal("expected some slots")
	}
	for _, s := range slots {
		local := s.Start.In(loc)
		if !policy.IsWorkDay(local.Weekday()) {
			t.Fatalf("slot on non-work day %s", local.Weekday())
		}
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, loc)
		dayEnd := time.Date(local.Year(), local.Month(), local.Day(), 18, 0, 0, 0, loc)
		if s.Start.Before(dayStart.UTC()) || s.End.After(dayEnd.UTC()) {
			t.Fatalf("slot %s-%s escapes the work window", local.Format("15:04"), s.End.In(loc).Format("15:04"))
		}
		for _, b := range busy {
			if Overlaps(s.Start, s.End, b.Start, b.End) {
				t.Fatalf("slot %s overlaps busy %s-%s", local.Format(time.RFC3339), b.Start, b.End)
			}
		}
	}
}

func TestFindSlots_CapAndWindowTermination(t *testing.T) {
	policy := chicagoPolicy(t)
	loc := chicago(t)

	from := time.Date(2026, 3, 2, 9, 0, 0, 0, loc).UTC()
	slots := FindSlots(policy, nil, from, from.Add(365*24*time.Hour), 30*time.Minute, 4)
	if len(slots) != 4 {
		t.Fatalf("expected the cap to stop enumeration at 4, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.After(slots[i-1].Start) {
			t.Fatal("slots must be strictly ascending")
		}
	}
}
