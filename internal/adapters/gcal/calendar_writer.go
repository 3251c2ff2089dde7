package gcal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarWriter creates events on a Google Calendar.
type CalendarWriter struct {
	svc        *calendar.Service
	calendarID string
	logger     *zap.Logger
	now        func() time.Time
}

// NewCalendarWriter creates a calendar writer using a credentials file.
// An empty calendarID targets the primary calendar.
func NewCalendarWriter(ctx context.Context, credentialsFile, calendarID string, logger *zap.Logger) (*CalendarWriter, error) {
	svc, err := calendar.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return newWriter(svc, calendarID, logger), nil
}

// NewCalendarWriterFromService wraps an existing Calendar service.
func NewCalendarWriterFromService(svc *calendar.Service, calendarID string, logger *zap.Logger) *CalendarWriter {
	return newWriter(svc, calendarID, logger)
}

func newWriter(svc *calendar.Service, calendarID string, logger *zap.Logger) *CalendarWriter {
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	return &CalendarWriter{
		svc:        svc,
		calendarID: calendarID,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateEvent creates a calendar event and returns its ID.
func (w *CalendarWriter) CreateEvent(ctx context.Context, details core.EventDetails) (string, error) {
	if strings.TrimSpace(details.StartTime) == "" {
		return "", fmt.Errorf("start time is required for calendar events")
	}

	start, allDay, err := normalizeEventTime(details.StartTime, w.now())
	if err != nil {
		return "", fmt.Errorf("invalid start time %q: %w", details.StartTime, err)
	}
	end := computeEndTime(start, allDay, details.EndTime, details.Duration, w.now())

	event := &calendar.Event{
		Summary:     details.Summary,
		Location:    details.Location,
		Description: details.Description,
		Start:       eventDateTime(start, allDay),
		End:         eventDateTime(end, allDay),
		Reminders: &calendar.EventReminders{
			UseDefault:      true,
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, attendee := range details.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: attendee})
	}

	created, err := w.svc.Events.Insert(w.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert calendar event: %w", err)
	}

	w.logger.Debug("Created calendar event",
		zap.String("event_id", created.Id),
		zap.String("summary", details.Summary))
	return created.Id, nil
}

func eventDateTime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.Format("2006-01-02")}
	}
	return &calendar.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: "UTC",
	}
}

// normalizeEventTime turns a free-form time string into a concrete time.
// Relative words resolve against the current day; date-only values become
// all-day events.
func normalizeEventTime(value string, now time.Time) (time.Time, bool, error) {
	text := strings.TrimSpace(value)
	lowered := strings.ToLower(text)
	today := now.UTC().Truncate(24 * time.Hour)

	switch {
	case strings.Contains(lowered, "today"):
		return today, true, nil
	case strings.Contains(lowered, "tomorrow"):
		return today.AddDate(0, 0, 1), true, nil
	case strings.Contains(lowered, "yesterday"):
		return today.AddDate(0, 0, -1), true, nil
	}

	if parsed, err := time.Parse("2006-01-02", text); err == nil {
		return parsed, true, nil
	}

	normalized := strings.Replace(text, "Z", "+00:00", 1)
	for _, layout := range []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
	} {
		if parsed, err := time.Parse(layout, normalized); err == nil {
			return parsed.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized time format")
}

// computeEndTime resolves the event end. An explicit end of the same kind
// wins; otherwise all-day events run one day and timed events default to
// one hour or the provided duration.
func computeEndTime(start time.Time, allDay bool, providedEnd string, duration time.Duration, now time.Time) time.Time {
	if strings.TrimSpace(providedEnd) != "" {
		if end, endAllDay, err := normalizeEventTime(providedEnd, now); err == nil && endAllDay == allDay {
			return end
		}
	}
	if allDay {
		return start.AddDate(0, 0, 1)
	}
	if duration > 0 {
		return start.Add(duration)
	}
	return start.Add(time.Hour)
}
