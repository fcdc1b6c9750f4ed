// Package usage tracks how many chat messages each subject sent per day.
//
// A day is a calendar date in UTC. Every read and write of a counter uses the
// server clock; client-local dates are never trusted.
package usage

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a UTC calendar date.
type Day struct {
	t time.Time
}

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) Day {
	y, m, d := t.UTC().Date()
	return Day{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

// Start is 00:00:00 UTC of the day.
func (d Day) Start() time.Time { return d.t }

// End is the first instant of the following day.
func (d Day) End() time.Time { return d.t.AddDate(0, 0, 1) }

// AddDays returns the day n days later (earlier when n is negative).
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// String formats the day as YYYY-MM-DD.
func (d Day) String() string { return d.t.Format(dayLayout) }
