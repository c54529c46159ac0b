package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock_Valid(t *testing.T) {
	cases := map[string]Clock{
		"00:00": {0, 0},
		"07:05": {7, 5},
		"23:59": {23, 59},
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseClock(%q) = %+v, want %+v", in, got, want)
		}
		if got.String() != in {
			t.Errorf("String() = %q, want %q", got.String(), in)
		}
	}
}

func TestParseClock_Invalid(t *testing.T) {
	for _, in := range []string{"", "7:00", "24:00", "12:60", "12-30", "ab:cd", "12:3", "012:30", " 1:30"} {
		if _, err := ParseClock(in); !errors.Is(err, ErrInvalidClock) {
			t.Errorf("ParseClock(%q) expected ErrInvalidClock, got %v", in, err)
		}
	}
}

func TestClockAdd_WrapsWithinDay(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"07:00", 5, "07:05"},
		{"07:58", 5, "08:03"},
		{"23:57", 5, "00:02"},
		{"23:55", 5, "00:00"},
		{"00:02", -5, "23:57"},
	}
	for _, tc := range cases {
		c, _ := ParseClock(tc.in)
		if got := c.Add(tc.n).String(); got != tc.want {
			t.Errorf("%s + %d = %s, want %s", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestClockOn(t *testing.T) {
	now := time.Date(2026, 3, 4, 6, 55, 12, 0, time.UTC)
	at := Clock{Hour: 7, Minute: 0}.On(now)
	if !at.Equal(time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected instant %v", at)
	}
}

func TestSortAlarms_ByTimeThenID(t *testing.T) {
	alarms := []Alarm{
		{ID: 3, Time: "09:00"},
		{ID: 2, Time: "07:00"},
		{ID: 1, Time: "09:00"},
	}
	SortAlarms(alarms)
	want := []int64{2, 1, 3}
	for i, id := range want {
		if alarms[i].ID != id {
			t.Fatalf("position %d: got id %d, want %d", i, alarms[i].ID, id)
		}
	}
}
