package gcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 24, 16, 45, 0, 0, time.UTC)

func TestNormalizeEventTime(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		allDay  bool
		wantErr bool
	}{
		{
			name:   "rfc3339 with zulu",
			value:  "2026-09-03T14:00:00Z",
			want:   time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
			allDay: false,
		},
		{
			name:   "rfc3339 with offset",
			value:  "2026-09-03T16:00:00+02:00",
			want:   time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
			allDay: false,
		},
		{
			name:   "naive datetime",
			value:  "2026-09-03T14:00:00",
			want:   time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
			allDay: false,
		},
		{
			name:   "space separated datetime",
			value:  "2026-09-03 14:00:00",
			want:   time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
			allDay: false,
		},
		{
			name:   "minute precision",
			value:  "2026-09-03T14:00",
			want:   time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
			allDay: false,
		},
		{
			name:   "date only is all day",
			value:  "2026-09-03",
			want:   time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			allDay: true,
		},
		{
			name:   "today",
			value:  "Today at some point",
			want:   time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
			allDay: true,
		},
		{
			name:   "tomorrow",
			value:  "tomorrow morning",
			want:   time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
			allDay: true,
		},
		{
			name:    "free text",
			value:   "sometime next week",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allDay, err := normalizeEventTime(tt.value, testNow)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, tt.allDay, allDay)
		})
	}
}

func TestComputeEndTime(t *testing.T) {
	start := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	day := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		start       time.Time
		allDay      bool
		providedEnd string
		duration    time.Duration
		want        time.Time
	}{
		{
			name:        "explicit end wins",
			start:       start,
			providedEnd: "2026-09-03T15:30:00Z",
			want:        time.Date(2026, 9, 3, 15, 30, 0, 0, time.UTC),
		},
		{
			name:        "mismatched kind is ignored",
			start:       start,
			providedEnd: "2026-09-04",
			want:        start.Add(time.Hour),
		},
		{
			name:     "duration applies",
			start:    start,
			duration: 30 * time.Minute,
			want:     start.Add(30 * time.Minute),
		},
		{
			name:  "timed default is one hour",
			start: start,
			want:  start.Add(time.Hour),
		},
		{
			name:   "all day runs one day",
			start:  day,
			allDay: true,
			want:   day.AddDate(0, 0, 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeEndTime(tt.start, tt.allDay, tt.providedEnd, tt.duration, testNow)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestEventDateTime(t *testing.T) {
	at := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)

	timed := eventDateTime(at, false)
	assert.Equal(t, "2026-09-03T14:00:00Z", timed.DateTime)
	assert.Equal(t, "UTC", timed.TimeZone)
	assert.Empty(t, timed.Date)

	allDay := eventDateTime(at, true)
	assert.Equal(t, "2026-09-03", allDay.Date)
	assert.Empty(t, allDay.DateTime)
}
