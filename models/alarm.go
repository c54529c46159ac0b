package models

import (
	"sort"
	"time"
)

// Alarm is one scheduled wall-clock alarm.
// The store is the source of truth; every device holds a derived copy.
type Alarm struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Time      string    `json:"time"` // "HH:MM", local wall clock
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a device's self-declared role in the presence layer
type Role string

const (
	RoleMain     Role = "main"
	RoleReceiver Role = "receiver"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleMain || r == RoleReceiver
}

// Device is one identified session as shown in a presence snapshot
type Device struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// SortAlarms orders alarms by time ascending. Ties keep id order so the
// result is stable across devices.
func SortAlarms(alarms []Alarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		if alarms[i].Time != alarms[j].Time {
			return alarms[i].Time < alarms[j].Time
		}
		return alarms[i].ID < alarms[j].ID
	})
}

// FindAlarm returns the index of the alarm with the given id, or -1
func FindAlarm(alarms []Alarm, id int64) int {
	for i := range alarms {
		if alarms[i].ID == id {
			return i
		}
	}
	return -1
}
