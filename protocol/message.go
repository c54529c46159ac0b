// Package protocol defines the JSON messages exchanged over the push channel.
//
// Every frame is a single JSON object tagged by "type". Clients send IDENTIFY
// and KICK_DEVICE; the server sends WELCOME to a new connection and broadcasts
// everything else to all connections.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

// Type tags a push message
type Type string

const (
	// client -> server
	TypeIdentify   Type = "IDENTIFY"
	TypeKickDevice Type = "KICK_DEVICE"

	// server -> connection
	TypeWelcome Type = "WELCOME"

	// server -> all
	TypePresenceUpdate Type = "PRESENCE_UPDATE"
	TypeAlarmCreated   Type = "ALARM_CREATED"
	TypeAlarmUpdated   Type = "ALARM_UPDATED"
	TypeAlarmDeleted   Type = "ALARM_DELETED"
	TypeKicked         Type = "KICKED"
)

// ErrMalformed marks a frame that could not be decoded into a usable message
var ErrMalformed = errors.New("malformed message")

// Message is the union of all push message variants. Only the fields that
// belong to Type are set.
type Message struct {
	Type Type `json:"type"`

	Role      models.Role     `json:"role,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Count     *int            `json:"count,omitempty"`
	Devices   []models.Device `json:"devices,omitempty"`
	Alarm     *models.Alarm   `json:"alarm,omitempty"`
	ID        *int64          `json:"id,omitempty"`
}

// Identify builds an IDENTIFY message
func Identify(role models.Role) Message {
	return Message{Type: TypeIdentify, Role: role}
}

// KickDevice builds a KICK_DEVICE message
func KickDevice(targetID string) Message {
	return Message{Type: TypeKickDevice, TargetID: targetID}
}

// Welcome builds a WELCOME message carrying the server-assigned session id
func Welcome(sessionID string) Message {
	return Message{Type: TypeWelcome, SessionID: sessionID}
}

// PresenceUpdate builds a PRESENCE_UPDATE message. Devices is never null on the wire.
func PresenceUpdate(count int, devices []models.Device) Message {
	if devices == nil {
		devices = []models.Device{}
	}
	return Message{Type: TypePresenceUpdate, Count: &count, Devices: devices}
}

// AlarmCreated builds an ALARM_CREATED message
func AlarmCreated(alarm models.Alarm) Message {
	return Message{Type: TypeAlarmCreated, Alarm: &alarm}
}

// AlarmUpdated builds an ALARM_UPDATED message
func AlarmUpdated(alarm models.Alarm) Message {
	return Message{Type: TypeAlarmUpdated, Alarm: &alarm}
}

// AlarmDeleted builds an ALARM_DELETED message
func AlarmDeleted(id int64) Message {
	return Message{Type: TypeAlarmDeleted, ID: &id}
}

// Kicked builds a KICKED message
func Kicked(targetID string) Message {
	return Message{Type: TypeKicked, TargetID: targetID}
}

// MarshalJSON keeps the empty devices list on PRESENCE_UPDATE, which
// omitempty would otherwise drop.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Type == TypePresenceUpdate {
		devices := m.Devices
		if devices == nil {
			devices = []models.Device{}
		}
		return json.Marshal(struct {
			wire
			Devices []models.Device `json:"devices"`
		}{wire: wire(m), Devices: devices})
	}
	return json.Marshal(wire(m))
}

// Encode serializes a message for one text frame
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one frame. Unknown types are returned as-is so callers can
// ignore them; known types missing their required payload are ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	missing := ""
	switch m.Type {
	case TypeIdentify:
		if m.Role == "" {
			missing = "role"
		}
	case TypeKickDevice, TypeKicked:
		if m.TargetID == "" {
			missing = "targetId"
		}
	case TypeWelcome:
		if m.SessionID == "" {
			missing = "sessionId"
		}
	case TypePresenceUpdate:
		if m.Count == nil {
			missing = "count"
		}
	case TypeAlarmCreated, TypeAlarmUpdated:
		if m.Alarm == nil {
			missing = "alarm"
		}
	case TypeAlarmDeleted:
		if m.ID == nil {
			missing = "id"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s requires %s", ErrMalformed, m.Type, missing)
	}
	return nil
}
