package calendar

import (
	"testing"
	"time"
)

// 2025-05-05 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2025, 5, 5, hour, min, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		id   string
		now  time.Time
		want time.Time
	}{
		{
			name: "later this week",
			id:   "051001", // Wednesday 18:00
			now:  monday(12, 0),
			want: time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "same day before start",
			id:   "051001",
			now:  time.Date(2025, 5, 7, 17, 0, 0, 0, time.UTC),
			want: time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "same day exactly at start",
			id:   "051001",
			now:  time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC),
			want: time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "same day after start rolls a week",
			id:   "051001",
			now:  time.Date(2025, 5, 7, 18, 0, 1, 0, time.UTC),
			want: time.Date(2025, 5, 14, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "weekday earlier in week rolls forward",
			id:   "051003", // Sunday 15:15
			now:  monday(9, 0),
			want: time.Date(2025, 5, 11, 15, 15, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextOccurrence(tt.id, tt.now)
			if !ok {
				t.Fatalf("NextOccurrence(%q) not found", tt.id)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextOccurrence = %v, want %v", got, tt.want)
			}
			if got.Before(tt.now) {
				t.Fatalf("NextOccurrence %v is before now %v", got, tt.now)
			}
			if got.Weekday() != slots[tt.id].Weekday {
				t.Fatalf("weekday = %v, want %v", got.Weekday(), slots[tt.id].Weekday)
			}
			// Earliest such occurrence: one week earlier must be before now.
			if prev := got.AddDate(0, 0, -7); !prev.Before(tt.now) {
				t.Fatalf("occurrence %v is not the earliest (prev %v >= now)", got, prev)
			}
		})
	}
}

func TestNextOccurrenceUnknown(t *testing.T) {
	t.Parallel()
	if _, ok := NextOccurrence("999999", monday(12, 0)); ok {
		t.Fatal("expected ok=false for unknown course")
	}
}

func TestDeadline(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC)
	want := time.Date(2025, 5, 7, 17, 53, 0, 0, time.UTC)
	if got := Deadline(start); !got.Equal(want) {
		t.Fatalf("Deadline = %v, want %v", got, want)
	}
}

func TestHasRecentlyStarted(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 5, 7, 18, 0, 0, 0, time.UTC) // Wednesday 18:00

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"41 minutes after start", start.Add(41 * time.Minute), true},
		{"exactly 2500s after start", start.Add(2500 * time.Second), true},
		{"2501s after start", start.Add(2501 * time.Second), false},
		{"exactly 2500s before start", start.Add(-2500 * time.Second), true},
		{"2501s before start", start.Add(-2501 * time.Second), false},
		{"seven minutes before start (fire point)", start.Add(-7 * time.Minute), true},
		{"different day", start.AddDate(0, 0, 2), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRecentlyStarted("051001", tt.now); got != tt.want {
				t.Fatalf("HasRecentlyStarted(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}

	if HasRecentlyStarted("999999", start) {
		t.Fatal("unknown course must never be recently started")
	}
}

func TestAllSortedAndLabel(t *testing.T) {
	t.Parallel()
	all := All()
	if len(all) != len(slots) {
		t.Fatalf("All() returned %d slots, want %d", len(all), len(slots))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("All() not sorted: %q before %q", all[i-1].ID, all[i].ID)
		}
	}
	if got := Label("051001"); got != "Wednesday 18:00-19:30" {
		t.Fatalf("Label = %q", got)
	}
	if got := Label("nope"); got != "Unknown course" {
		t.Fatalf("Label(unknown) = %q", got)
	}
}
