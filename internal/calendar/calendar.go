// Package calendar talks to the external calendar provider that backs
// confirmed appointments and blocks. Times cross this boundary as tenant-local
// wall clock paired with an explicit IANA zone name, never a bare offset.
package calendar

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// EventInput carries the fields the engine writes to the provider.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time // UTC instant
	End         time.Time // UTC instant
	TimeZone    string    // IANA zone the event is rendered in
}

// Event is a provider event as seen by the engine. Start and End are UTC.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Status      string
}

// Provider is the external calendar surface the engine consumes. The insert
// call is the authoritative conflict check for a booking: an in-process
// availability check is only advisory (the busy snapshot may be stale).
type Provider interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, calendarID string, input EventInput) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, input EventInput) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// IsConflict reports whether the provider rejected a mutation because the
// interval is already taken on its side.
func IsConflict(err error) bool {
	return statusCode(err) == http.StatusConflict
}

// IsNotFound reports whether the referenced event no longer exists. Google
// also answers 410 for events deleted through the API.
func IsNotFound(err error) bool {
	code := statusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

// IsUnavailable reports provider-side outages and transport failures, the
// cases a caller may retry.
func IsUnavailable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	code := statusCode(err)
	return code >= 500 || code == http.StatusTooManyRequests
}
