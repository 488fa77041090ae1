package transform

import (
	"time"

	"playmart/internal/model"
)

// ExpandTime derives the calendar parts of a timestamp.
//
// Conventions (fixed, relied on by the time dimension):
//   - Week is the ISO-8601 week number (time.ISOWeek).
//   - Weekday follows Go's time.Weekday numbering: 0=Sunday .. 6=Saturday.
//   - All parts are computed in UTC.
//
// Pure and total: any valid time.Time yields a row, no error cases.
func ExpandTime(start time.Time) model.TimeRow {
	start = start.UTC()
	_, week := start.ISOWeek()
	return model.TimeRow{
		StartTime: start,
		Hour:      start.Hour(),
		Day:       start.Day(),
		Week:      week,
		Month:     int(start.Month()),
		Year:      start.Year(),
		Weekday:   int(start.Weekday()),
	}
}
