package calendar

import "time"

// The fixed course catalog. Ids are the booking site's course numbers.
var slots = map[string]Slot{
	"051001": {
		ID: "051001", Weekday: time.Wednesday, Hour: 18, Minute: 0,
		Name:       "Wednesday 18:00-19:30",
		Location:   "große Unihalle",
		Timeframe:  "02.04.-24.09.",
		Instructor: "Timo Klemm",
		Level:      "Stufe 1 / Stufe 2",
	},
	"051002": {
		ID: "051002", Weekday: time.Friday, Hour: 16, Minute: 30,
		Name:       "Friday 16:30-18:00",
		Location:   "große Unihalle",
		Timeframe:  "04.04.-26.09.",
		Instructor: "Peter Sieck",
		Level:      "Stufe 1 / Stufe 2",
	},
	"051003": {
		ID: "051003", Weekday: time.Sunday, Hour: 15, Minute: 15,
		Name:       "Sunday 15:15-16:45",
		Location:   "große Unihalle",
		Timeframe:  "06.04.-28.09.",
		Instructor: "Timo Klemm",
		Level:      "Stufe 1 / Stufe 2",
	},
	"051011": {
		ID: "051011", Weekday: time.Tuesday, Hour: 21, Minute: 0,
		Name:       "Tuesday 21:00-22:30",
		Location:   "große Unihalle",
		Timeframe:  "01.04.-30.09.",
		Instructor: "Timo Bücken, Timo Klemm",
		Level:      "Stufe 2 / Stufe 3",
	},
	"051012": {
		ID: "051012", Weekday: time.Friday, Hour: 18, Minute: 0,
		Name:       "Friday 18:00-19:30",
		Location:   "große Unihalle",
		Timeframe:  "04.04.-26.09.",
		Instructor: "Peter Sieck",
		Level:      "Stufe 2 / Stufe 3",
	},
	"0510011": {
		ID: "0510011", Weekday: time.Wednesday, Hour: 18, Minute: 30,
		Name:       "Wednesday 18:30-20:30",
		Location:   "Baererstraße / Mareststraße - Dreifelhalle",
		Timeframe:  "02.04.-24.09.",
		Instructor: "Stefan Zimmer",
		Level:      "Stufe 1 / Stufe 2",
	},
}
