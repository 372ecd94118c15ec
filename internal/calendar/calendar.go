// Package calendar holds the static course slot table and the pure time
// arithmetic around it: next weekly occurrence, registration deadline and
// the "recently started" window used to clear stale registrations.
package calendar

import (
	"sort"
	"time"
)

// Deadline offset: attempts fire 7 minutes before a course starts.
const DeadlineOffset = 7 * time.Minute

// RecentWindow bounds HasRecentlyStarted: a course counts as "recently
// started" while |now - this week's occurrence| <= RecentWindow. The window
// is symmetric around the occurrence, so it also covers the pre-start fire
// point (start - 7min); every pre-deadline record load therefore clears a
// stale flag from a previous week.
const RecentWindow = 2500 * time.Second

// Slot is one fixed weekly course slot.
type Slot struct {
	ID      string
	Weekday time.Weekday
	Hour    int
	Minute  int

	// Operator-facing metadata, not used by scheduling.
	Name       string
	Location   string
	Timeframe  string
	Instructor string
	Level      string
}

// Lookup returns the slot for a course id.
func Lookup(id string) (Slot, bool) {
	s, ok := slots[id]
	return s, ok
}

// All returns every known slot, sorted by course id.
func All() []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Label returns the human-readable weekday/time label for a course id,
// or "Unknown course" for ids outside the table.
func Label(id string) string {
	if s, ok := slots[id]; ok {
		return s.Name
	}
	return "Unknown course"
}

// NextOccurrence returns the next start time of the course at or after now:
// today's slot when the weekday matches and the start time has not passed
// yet, otherwise the slot in the upcoming week. ok is false for unknown ids.
func NextOccurrence(id string, now time.Time) (start time.Time, ok bool) {
	s, found := slots[id]
	if !found {
		return time.Time{}, false
	}

	base := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	days := (int(s.Weekday) - int(now.Weekday()) + 7) % 7
	if days == 0 && now.After(base) {
		// Today is the course day but the start time already passed.
		days = 7
	}
	return base.AddDate(0, 0, days), true
}

// Deadline returns the registration fire time for a course start.
func Deadline(start time.Time) time.Time {
	return start.Add(-DeadlineOffset)
}

// HasRecentlyStarted reports whether now falls within RecentWindow of this
// week's occurrence of the course. This week's occurrence is the forward
// mod-7 projection of the slot, so the check only ever triggers on the
// course's weekday. Unknown ids are never recently started.
func HasRecentlyStarted(id string, now time.Time) bool {
	s, found := slots[id]
	if !found {
		return false
	}

	base := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	days := (int(s.Weekday) - int(now.Weekday()) + 7) % 7
	occ := base.AddDate(0, 0, days)

	d := now.Sub(occ)
	if d < 0 {
		d = -d
	}
	return d <= RecentWindow
}
