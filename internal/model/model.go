package model

import (
	"fmt"
	"time"
)

// Appointment statuses. Completed is written by an out-of-band process
// (post-visit reconciliation), never by the engine itself.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
	StatusCancelled           = "cancelled"
	StatusCompleted           = "completed"
)

// Block statuses. Blocks are soft-deleted so the audit trail survives.
const (
	BlockActive  = "active"
	BlockDeleted = "deleted"
)

// Block types.
const (
	BlockTypeTimeOff     = "time_off"
	BlockTypeMaintenance = "maintenance"
	BlockTypePersonal    = "personal"
)

// Appointment is the persisted booking record. Start and End are UTC
// instants; tenant-local wall clock exists only at the calendar-provider
// and HTTP boundaries.
type Appointment struct {
	ID              string
	TenantID        string
	ClientRef       string
	Service         string
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Status          string
	CalendarEventID string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CalendarBlock is a tenant-declared unavailable period that is not an
// appointment but still consumes availability.
type CalendarBlock struct {
	ID              string
	TenantID        string
	Start           time.Time
	End             time.Time
	BlockType       string
	Reason          string
	Status          string
	CalendarEventID string
	CreatedAt       time.Time
}

// TenantPolicy is the per-tenant scheduling configuration. It is loaded per
// request and passed as an argument everywhere; nothing reads it from
// ambient state.
type TenantPolicy struct {
	TenantID               string
	Timezone               string
	WorkDays               []time.Weekday
	WorkStartMinute        int
	WorkEndMinute          int
	SlotMinutes            int
	CalendarID             string
	DefaultDurationMinutes int
}

func (p TenantPolicy) Validate() error {
	if p.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", p.Timezone)
	}
	if p.WorkStartMinute < 0 || p.WorkEndMinute > 24*60 {
		return fmt.Errorf("work hours out of range")
	}
	if p.WorkStartMinute >= p.WorkEndMinute {
		return fmt.Errorf("work_start must be before work_end")
	}
	if p.SlotMinutes <= 0 {
		return fmt.Errorf("slot granularity must be positive")
	}
	if len(p.WorkDays) == 0 {
		return fmt.Errorf("at least one work day is required")
	}
	return nil
}

func (p TenantPolicy) IsWorkDay(d time.Weekday) bool {
	for _, wd := range p.WorkDays {
		if wd == d {
			return true
		}
	}
	return false
}

// Location resolves the tenant's IANA zone. Policy validation guarantees the
// zone loads, so lookups after a Validate cannot fail.
func (p TenantPolicy) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// DefaultPolicy mirrors the seeded schedule used when a tenant has not
// configured one yet: Mon-Fri 09:00-17:00, 30-minute grid.
func DefaultPolicy(tenantID string) TenantPolicy {
	return TenantPolicy{
		TenantID:               tenantID,
		Timezone:               "UTC",
		WorkDays:               []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WorkStartMinute:        9 * 60,
		WorkEndMinute:          17 * 60,
		SlotMinutes:            30,
		CalendarID:             "primary",
		DefaultDurationMinutes: 30,
	}
}
