// Package presence tracks connected push-channel sessions and their declared roles.
//
// Two numbers are kept apart on purpose. Count is the number of open
// transports, including sockets that have connected but not yet identified.
// Devices lists only identified sessions. A snapshot can therefore report
// count > len(devices) for the window between connect and IDENTIFY.
package presence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xiaoyuanzhu-com/sync-alarm/metrics"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

// ErrInvalidRole is returned by Register for a role other than main or receiver
var ErrInvalidRole = errors.New("invalid role")

// Broadcaster delivers a message to every connected session
type Broadcaster interface {
	Notify(msg protocol.Message)
}

// Snapshot is the presence state as sent in PRESENCE_UPDATE
type Snapshot struct {
	Count   int             `json:"count"`
	Devices []models.Device `json:"devices"`
}

// Message converts the snapshot into its push message
func (s Snapshot) Message() protocol.Message {
	return protocol.PresenceUpdate(s.Count, s.Devices)
}

// Registry is the process-wide table of sessions
type Registry struct {
	mu        sync.Mutex
	open      map[string]struct{}
	roles     map[string]models.Role
	order     []string // identified session ids, by first IDENTIFY
	broadcast Broadcaster
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty registry announcing changes through b
func NewRegistry(b Broadcaster, m *metrics.Metrics) *Registry {
	return &Registry{
		open:      make(map[string]struct{}),
		roles:     make(map[string]models.Role),
		broadcast: b,
		metrics:   m,
	}
}

// Connect records an open transport. It does not broadcast; the new
// connection is sent the returned snapshot directly by its handler.
//
// attach, if non-nil, runs under the registry lock. Presence broadcasts are
// also sent under that lock, so a subscription made in attach receives
// exactly the presence updates newer than the returned snapshot.
func (r *Registry) Connect(id string, attach func()) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attach != nil {
		attach()
	}
	r.open[id] = struct{}{}
	r.metrics.SetPresence(len(r.open), len(r.order))
	return r.snapshotLocked()
}

// Register records (or changes) the role of a session and broadcasts the
// full snapshot. A session that never called Connect is counted as open.
func (r *Registry) Register(id string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.open[id] = struct{}{}
	if _, known := r.roles[id]; !known {
		r.order = append(r.order, id)
	}
	r.roles[id] = role
	r.announceLocked()
	return nil
}

// Unregister removes a session and its transport and broadcasts the full
// snapshot. Unknown ids still trigger a broadcast, matching a close of a
// socket that never identified.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.open, id)
	if _, known := r.roles[id]; known {
		delete(r.roles, id)
		for i, sid := range r.order {
			if sid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.announceLocked()
}

// Role returns the registered role of a session
func (r *Registry) Role(id string) (models.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	return role, ok
}

// Snapshot returns the current presence state
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() Snapshot {
	devices := make([]models.Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, models.Device{Role: r.roles[id], ID: id})
	}
	return Snapshot{Count: len(r.open), Devices: devices}
}

// announceLocked broadcasts while still holding r.mu so snapshots reach
// every session in the order the registry changed.
func (r *Registry) announceLocked() {
	snap := r.snapshotLocked()
	r.metrics.SetPresence(snap.Count, len(snap.Devices))
	if r.broadcast != nil {
		r.broadcast.Notify(snap.Message())
	}
}
