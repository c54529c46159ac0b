// Package reconcile is the device side of sync-alarm.
//
// An Engine keeps a local copy of the alarm list that is updated
// optimistically, queues mutations the server could not be reached for, and
// replays that queue when the push channel reconnects. Push messages are
// merged into the same local copy, and Tick derives the triggering and
// warning sets from the wall clock.
package reconcile

import (
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

// Kind names the mutation a PendingAction replays
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// PendingAction is a mutation applied locally but not yet confirmed by the
// server. Create carries the whole temporary alarm; update and delete refer
// to an alarm by id, which is negative while it only exists locally.
type PendingAction struct {
	Kind    Kind         `json:"kind"`
	Alarm   models.Alarm `json:"alarm,omitzero"`
	ID      int64        `json:"id,omitempty"`
	Enabled bool         `json:"enabled,omitempty"`
}

// CreateAction queues a locally created alarm
func CreateAction(alarm models.Alarm) PendingAction {
	return PendingAction{Kind: KindCreate, Alarm: alarm}
}

// UpdateAction queues an enable toggle
func UpdateAction(id int64, enabled bool) PendingAction {
	return PendingAction{Kind: KindUpdate, ID: id, Enabled: enabled}
}

// DeleteAction queues a deletion
func DeleteAction(id int64) PendingAction {
	return PendingAction{Kind: KindDelete, ID: id}
}

// target is the alarm id the action refers to
func (a PendingAction) target() int64 {
	if a.Kind == KindCreate {
		return a.Alarm.ID
	}
	return a.ID
}

// Apply returns local with action applied. local is not modified and the
// result is sorted. Updates and deletes of unknown ids are no-ops, and a
// create whose id is already present replaces that entry.
func Apply(local []models.Alarm, action PendingAction) []models.Alarm {
	out := make([]models.Alarm, 0, len(local)+1)
	out = append(out, local...)

	switch action.Kind {
	case KindCreate:
		if i := models.FindAlarm(out, action.Alarm.ID); i >= 0 {
			out[i] = action.Alarm
		} else {
			out = append(out, action.Alarm)
		}
	case KindUpdate:
		if i := models.FindAlarm(out, action.ID); i >= 0 {
			out[i].Enabled = action.Enabled
		}
	case KindDelete:
		if i := models.FindAlarm(out, action.ID); i >= 0 {
			out = append(out[:i], out[i+1:]...)
		}
	}

	models.SortAlarms(out)
	return out
}

// replace swaps the entry with id old for alarm, or inserts alarm when old
// is gone. An existing entry already carrying alarm.ID is dropped first so a
// push message that beat the HTTP response does not leave a duplicate.
func replace(local []models.Alarm, old int64, alarm models.Alarm) []models.Alarm {
	out := make([]models.Alarm, 0, len(local)+1)
	for _, a := range local {
		if a.ID == old || a.ID == alarm.ID {
			continue
		}
		out = append(out, a)
	}
	out = append(out, alarm)
	models.SortAlarms(out)
	return out
}
