// Package availability enumerates bookable slots against a tenant's work-hour
// policy and a set of busy intervals, and tests single candidates for
// conflicts. All interval arithmetic is half-open: [start, end).
package availability

import (
	"time"

	"github.com/reverb-labs/schedcore/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Busy interval kinds.
const (
	KindAppointment = "appointment"
	KindBlock       = "block"
)

// BusyInterval is one interval that consumes availability, assembled per
// request from calendar events and pending holds. SourceID points at the
// originating event or record.
type BusyInterval struct {
	Start    time.Time
	End      time.Time
	Kind     string
	SourceID string
}

// Slot is a candidate bookable interval. Computed, never persisted.
type Slot struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Touching intervals do not overlap, so back-to-back bookings are allowed.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CheckSlot tests one candidate against the busy set and returns every
// conflicting interval. The result is advisory: the calendar insert and the
// database exclusion constraint remain authoritative.
func CheckSlot(candidate Interval, busy []BusyInterval) (bool, []BusyInterval) {
	var conflicts []BusyInterval
	for _, b := range busy {
		if Overlaps(candidate.Start, candidate.End, b.Start, b.End) {
			conflicts = append(conflicts, b)
		}
	}
	return len(conflicts) == 0, conflicts
}

// FindSlots walks the search window [from, to) and collects up to limit slots
// of exactly duration, each fully inside a work-hour window on a work day and
// disjoint from every busy interval.
//
// Offered slots are enumerated back to back. On conflict the cursor jumps to
// max(cursor+step, conflict end) rounded up to the next granularity boundary,
// so a slot starting exactly when a conflict ends is never skipped and the
// scan never degrades to minute-by-minute probing.
func FindSlots(policy model.TenantPolicy, busy []BusyInterval, from, to time.Time, duration time.Duration, limit int) []Slot {
	if duration <= 0 || limit <= 0 || !to.After(from) {
		return nil
	}
	loc, err := policy.Location()
	if err != nil {
		return nil
	}
	step := time.Duration(policy.SlotMinutes) * time.Minute

	// A request longer than a full work day can never fit.
	if duration > time.Duration(policy.WorkEndMinute-policy.WorkStartMinute)*time.Minute {
		return nil
	}

	var slots []Slot
	cursor := from
	for cursor.Before(to) && len(slots) < limit {
		local := cursor.In(loc)
		dayStart, dayEnd := workWindow(local, policy, loc)

		if !policy.IsWorkDay(local.Weekday()) || !cursor.Before(dayEnd) {
			cursor = nextWorkDayStart(local, policy, loc)
			continue
		}
		if cursor.Before(dayStart) {
			cursor = dayStart
			continue
		}

		end := cursor.Add(duration)
		if end.After(dayEnd) {
			cursor = nextWorkDayStart(local, policy, loc)
			continue
		}
		if conflict, found := firstConflict(cursor, end, busy); found {
			cursor = advancePast(dayStart, cursor, conflict.End, step)
			continue
		}

		slots = append(slots, Slot{
			Start:           cursor,
			End:             end,
			DurationMinutes: int(duration / time.Minute),
		})
		// Offered slots are back to back; the granularity grid only governs
		// how the cursor recovers from conflicts.
		cursor = end
	}
	return slots
}

func firstConflict(start, end time.Time, busy []BusyInterval) (BusyInterval, bool) {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return b, true
		}
	}
	return BusyInterval{}, false
}

// advancePast moves the cursor beyond a conflict without scanning minute by
// minute: at least one step forward, and at least to the conflict's end,
// rounded up to the day's granularity grid.
func advancePast(dayStart, cursor, conflictEnd time.Time, step time.Duration) time.Time {
	next := cursor.Add(step)
	if conflictEnd.After(next) {
		next = conflictEnd
	}
	return roundUp(dayStart, next, step)
}

// roundUp snaps t forward onto the grid anchored at the day's work_start.
// Anchoring locally keeps the grid aligned in zones whose UTC offset is not a
// multiple of the step, like Asia/Kathmandu at +05:45.
func roundUp(anchor, t time.Time, step time.Duration) time.Time {
	offset := t.Sub(anchor)
	if offset <= 0 {
		return anchor
	}
	rounded := offset.Truncate(step)
	if rounded < offset {
		rounded += step
	}
	return anchor.Add(rounded)
}

// workWindow builds the day's bounds as wall-clock times. Constructing them
// via time.Date instead of adding durations to midnight keeps the window at
// the declared hours on days with a DST transition.
func workWindow(local time.Time, policy model.TenantPolicy, loc *time.Location) (time.Time, time.Time) {
	return atMinute(local, policy.WorkStartMinute, loc), atMinute(local, policy.WorkEndMinute, loc)
}

func atMinute(local time.Time, minuteOfDay int, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc)
}

// nextWorkDayStart returns work_start on the next work day after the given
// local time, scanning at most a week.
func nextWorkDayStart(local time.Time, policy model.TenantPolicy, loc *time.Location) time.Time {
	y, m, d := local.Date()
	for i := 1; i <= 7; i++ {
		candidate := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if policy.IsWorkDay(candidate.Weekday()) {
			return atMinute(candidate, policy.WorkStartMinute, loc)
		}
	}
	return time.Date(y, m, d+7, 0, 0, 0, 0, loc)
}
