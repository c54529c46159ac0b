package reconcile

import (
	"fmt"
	"slices"
	"time"

	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

const (
	// NotificationLifetime is how long a notification stays active.
	// Identical title+message pairs are suppressed while one is active.
	NotificationLifetime = 10 * time.Second

	// WarningMinutes is the look-ahead of the warning state and of the
	// advance notice
	WarningMinutes = 5

	msgAdvance = "Starting in 5 minutes!"
	msgNow     = "ALARM NOW!"
)

// Notification is a transient message shown to the user
type Notification struct {
	ID      int64     `json:"id"`
	AlarmID int64     `json:"alarm_id,omitempty"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	Expires time.Time `json:"expires"`
}

// Derived is the per-tick view computed from the local alarms and the clock.
// None of it is persisted.
type Derived struct {
	Triggering []int64
	Warning    []int64
	// Fired holds the notifications raised by this tick
	Fired []Notification
}

// IsTriggering reports whether id is ringing
func (d Derived) IsTriggering(id int64) bool { return slices.Contains(d.Triggering, id) }

// IsWarning reports whether id is within the warning window
func (d Derived) IsWarning(id int64) bool { return slices.Contains(d.Warning, id) }

// evaluation is what the clock says about one alarm at one instant
type evaluation struct {
	triggering bool
	warning    bool
	advance    bool // fire the 5-minute notice
	ring       bool // fire the trigger notice
}

// evaluate applies the trigger and warning rules to a single enabled alarm.
// The alarm instant is its clock time on now's calendar day, so an alarm
// shortly after midnight is not in the warning window late the day before.
func evaluate(alarm models.Alarm, now time.Time) (evaluation, bool) {
	clock, err := models.ParseClock(alarm.Time)
	if err != nil {
		return evaluation{}, false
	}

	diffMs := clock.On(now).Sub(now).Milliseconds()
	diffMins := floorDiv(diffMs, int64(time.Minute/time.Millisecond))

	var ev evaluation
	ev.triggering = models.ClockOf(now) == clock
	ev.warning = diffMins >= 0 && diffMins <= WarningMinutes
	// the 1s tick lands in this window exactly once
	ev.advance = diffMins == WarningMinutes && diffMs > 0 && diffMs < 301000
	ev.ring = ev.triggering && now.Second() == 0
	return ev, true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Countdown is the time until clock next occurs at or after now
func Countdown(clock models.Clock, now time.Time) time.Duration {
	target := clock.On(now)
	if target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}

// FormatCountdown renders d as "2h 5m", "5m 3s" or "3s"
func FormatCountdown(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
