// Package scheduler owns the per-account registration loop: it derives the
// weekly fire times from the course calendar, arms one-shot timers for them,
// runs the workflow engine when one fires and merges the outcomes back into
// the durable account record.
package scheduler

import (
	"sort"
	"time"

	"github.com/himecorleone/course-registration-system/internal/calendar"
)

// FireTime pairs a course with the instant its registration attempt starts.
type FireTime struct {
	CourseID string    `json:"course_id"`
	Start    time.Time `json:"start"`   // course occurrence start
	FireAt   time.Time `json:"fire_at"` // Start minus the pre-start offset
}

// ComputeFireSchedule derives the next fire time of every known course.
//
// A course whose fire time for the upcoming occurrence already passed is
// left out of this cycle entirely; the daily re-derive picks it up again
// once next week's occurrence is the nearest one. The result only contains
// instants strictly after now, sorted ascending (course id breaks ties).
func ComputeFireSchedule(now time.Time) []FireTime {
	slots := calendar.All()
	out := make([]FireTime, 0, len(slots))
	for _, slot := range slots {
		start, ok := calendar.NextOccurrence(slot.ID, now)
		if !ok {
			continue
		}
		fireAt := calendar.Deadline(start)
		if !fireAt.After(now) {
			continue
		}
		out = append(out, FireTime{CourseID: slot.ID, Start: start, FireAt: fireAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].CourseID < out[j].CourseID
	})
	return out
}
