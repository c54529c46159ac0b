package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidClock is returned for any string that is not a strict "HH:MM"
var ErrInvalidClock = errors.New("time must be HH:MM with hour 00-23 and minute 00-59")

const minutesPerDay = 24 * 60

// Clock is a wall-clock time of day with minute precision
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a strict two-digit "HH:MM" string
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// ClockOf returns the wall-clock time of t in t's location
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// String formats the clock as "HH:MM"
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Add moves the clock by n minutes, wrapping within the day
func (c Clock) Add(n int) Clock {
	total := ((c.Hour*60+c.Minute+n)%minutesPerDay + minutesPerDay) % minutesPerDay
	return Clock{Hour: total / 60, Minute: total % 60}
}

// On returns the instant this clock time falls on the calendar day of t
func (c Clock) On(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, t.Location())
}
