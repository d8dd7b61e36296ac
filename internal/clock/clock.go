// Package clock supplies the current time to the engine.
package clock

import (
	"strings"
	"time"
	_ "time/tzdata" // market timezones must resolve on hosts without zoneinfo
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// LoadLocation resolves a timezone name, falling back to UTC when the name is
// empty or unknown.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseHHMM parses a "HH:MM" wall-clock time into hours and minutes.
func ParseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// At returns the instant of the given HH:MM wall-clock time on the calendar
// day of day, in loc.
func At(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}
