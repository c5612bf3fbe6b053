package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/reverb-labs/schedcore/internal/localtime"
)

// GoogleClient implements Provider on the Google Calendar v3 API.
type GoogleClient struct {
	svc *gcal.Service
}

// NewGoogleClient builds a client from an OAuth2 token source. Token refresh
// mechanics live with the caller; the engine only consumes the service.
func NewGoogleClient(ctx context.Context, ts oauth2.TokenSource) (*GoogleClient, error) {
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleClient{svc: svc}, nil
}

// NewGoogleClientWithService wraps an already-constructed service, used by
// tests and by callers that manage their own HTTP client.
func NewGoogleClientWithService(svc *gcal.Service) *GoogleClient {
	return &GoogleClient{svc: svc}
}

func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var events []Event
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		for _, item := range res.Items {
			if item.Status == "cancelled" {
				continue
			}
			events = append(events, toEvent(item))
		}
		if res.NextPageToken == "" {
			return events, nil
		}
		pageToken = res.NextPageToken
	}
}

func (c *GoogleClient) InsertEvent(ctx context.Context, calendarID string, input EventInput) (string, error) {
	event, err := toGoogleEvent(input)
	if err != nil {
		return "", err
	}
	created, err := c.svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

func (c *GoogleClient) UpdateEvent(ctx context.Context, calendarID, eventID string, input EventInput) error {
	event, err := toGoogleEvent(input)
	if err != nil {
		return err
	}
	if _, err := c.svc.Events.Update(calendarID, eventID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// toGoogleEvent renders start/end as wall clock in the event's zone, with the
// zone named explicitly. The provider owns the offset arithmetic.
func toGoogleEvent(input EventInput) (*gcal.Event, error) {
	zone := input.TimeZone
	if zone == "" {
		zone = "UTC"
	}
	startLocal, err := localtime.FromUTC(input.Start, zone)
	if err != nil {
		return nil, err
	}
	endLocal, err := localtime.FromUTC(input.End, zone)
	if err != nil {
		return nil, err
	}
	return &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start:       &gcal.EventDateTime{DateTime: startLocal, TimeZone: zone},
		End:         &gcal.EventDateTime{DateTime: endLocal, TimeZone: zone},
	}, nil
}

func toEvent(item *gcal.Event) Event {
	ev := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Status:      item.Status,
	}
	ev.Start = parseEventTime(item.Start)
	ev.End = parseEventTime(item.End)
	return ev
}

func parseEventTime(edt *gcal.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t.UTC()
		}
	}
	if edt.Date != "" {
		// All-day events block the whole civil day in the event's zone.
		loc := time.UTC
		if edt.TimeZone != "" {
			if l, err := time.LoadLocation(edt.TimeZone); err == nil {
				loc = l
			}
		}
		if t, err := time.ParseInLocation("2006-01-02", edt.Date, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
