// Package session implements the per-connection push protocol.
//
// A Session moves Connecting -> Identified -> Closed. It knows nothing about
// the transport: the socket handler feeds it inbound frames and forwards
// broadcast messages the other way.
//
// Roles are self-declared and unauthenticated, so any client may claim "main".
// KICK_DEVICE is therefore advisory: the server broadcasts KICKED and relies
// on the named session to disconnect itself. It is a convenience, not a
// security control.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/metrics"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/presence"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

// State is the lifecycle stage of a session
type State int

const (
	StateConnecting State = iota
	StateIdentified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome describes what Handle did with a frame
type Outcome int

const (
	Ignored Outcome = iota
	Identified
	KickSent
	Dropped // malformed or not allowed
)

// ErrClosed is returned by Handle after Close
var ErrClosed = errors.New("session closed")

// Registry is the subset of the presence registry a session needs
type Registry interface {
	Connect(id string, attach func()) presence.Snapshot
	Register(id string, role models.Role) error
	Unregister(id string)
	Role(id string) (models.Role, bool)
}

// Broadcaster delivers a message to every session
type Broadcaster interface {
	Notify(msg protocol.Message)
}

// Session is one push-channel connection
type Session struct {
	id        string
	registry  Registry
	broadcast Broadcaster
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu    sync.Mutex
	state State
}

// New creates a session with a fresh id
func New(registry Registry, broadcast Broadcaster, m *metrics.Metrics) *Session {
	id := uuid.New().String()
	return &Session{
		id:        id,
		registry:  registry,
		broadcast: broadcast,
		metrics:   m,
		logger:    log.GetLogger("Session").With().Str("sessionId", id).Logger(),
		state:     StateConnecting,
	}
}

// ID returns the server-assigned session id
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open counts the transport in presence and returns the frames the new
// connection is sent before any broadcast: WELCOME, then the current snapshot.
// subscribe is run atomically with the snapshot; see presence.Registry.Connect.
func (s *Session) Open(subscribe func()) []protocol.Message {
	snap := s.registry.Connect(s.id, subscribe)
	s.logger.Debug().Int("count", snap.Count).Msg("session opened")
	return []protocol.Message{
		protocol.Welcome(s.id),
		snap.Message(),
	}
}

// Handle dispatches one inbound frame. Malformed and unauthorized frames are
// dropped without error so the connection continues.
func (s *Session) Handle(frame []byte) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return Dropped, ErrClosed
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		s.metrics.ProtocolDropped()
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return Dropped, nil
	}

	switch msg.Type {
	case protocol.TypeIdentify:
		if err := s.registry.Register(s.id, msg.Role); err != nil {
			s.metrics.ProtocolDropped()
			s.logger.Debug().Err(err).Msg("dropping identify")
			return Dropped, nil
		}
		s.state = StateIdentified
		s.logger.Info().Str("role", string(msg.Role)).Msg("session identified")
		return Identified, nil

	case protocol.TypeKickDevice:
		role, ok := s.registry.Role(s.id)
		if !ok || role != models.RoleMain {
			s.metrics.ProtocolDropped()
			s.logger.Debug().Str("targetId", msg.TargetID).Msg("ignoring kick from non-main session")
			return Dropped, nil
		}
		s.broadcast.Notify(protocol.Kicked(msg.TargetID))
		s.logger.Info().Str("targetId", msg.TargetID).Msg("kick broadcast")
		return KickSent, nil

	default:
		s.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
		return Ignored, nil
	}
}

// Close unregisters the session and re-announces presence. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.registry.Unregister(s.id)
	s.logger.Debug().Msg("session closed")
}
