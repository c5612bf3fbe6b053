package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotNoLongerAvailable means the requested interval was taken between
	// the advisory availability check and the authoritative commit (calendar
	// insert or database exclusion constraint).
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")

	// ErrRecordNotFound means no appointment or block matches the tenant and id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrProviderUnavailable means the calendar provider could not be reached
	// or answered with a server-side failure.
	ErrProviderUnavailable = errors.New("calendar provider unavailable")

	// ErrInvalidTransition means the record's current status does not permit
	// the requested lifecycle transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PersistenceConflictError reports a transition that mutated the external
// calendar but failed to persist. The event id is carried so the caller can
// reconcile the orphaned artifact; it is never discarded silently.
type PersistenceConflictError struct {
	EventID         string
	AttemptedStatus string
	Err             error
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("persisting %s failed after calendar event %s was created: %v",
		e.AttemptedStatus, e.EventID, e.Err)
}

func (e *PersistenceConflictError) Unwrap() error {
	return e.Err
}
