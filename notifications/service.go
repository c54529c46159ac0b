package notifications

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/metrics"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

// DefaultBuffer is the per-subscriber queue length when none is configured
const DefaultBuffer = 64

// Service fans push messages out to every subscribed session.
//
// Notify holds the lock for the whole fan-out, so all subscribers observe
// messages in the same global order. A subscriber whose queue is full is
// evicted and its channel closed rather than silently skipped: messages carry
// no sequence numbers, and a closed channel is the only signal a session gets
// that it must resynchronize.
type Service struct {
	mu          sync.Mutex
	subscribers map[chan protocol.Message]struct{}
	buffer      int
	closed      bool

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates a new notification service. buffer <= 0 uses DefaultBuffer.
func NewService(buffer int, m *metrics.Metrics) *Service {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Service{
		subscribers: make(map[chan protocol.Message]struct{}),
		buffer:      buffer,
		metrics:     m,
		logger:      log.GetLogger("Notifications"),
	}
}

// Subscribe creates a new subscription channel.
// Returns the message channel and an unsubscribe function; the channel is
// closed on unsubscribe, eviction or shutdown, whichever happens first.
func (s *Service) Subscribe() (<-chan protocol.Message, func()) {
	ch := make(chan protocol.Message, s.buffer)

	s.mu.Lock()
	if s.closed {
		close(ch)
	} else {
		s.subscribers[ch] = struct{}{}
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.remove(ch)
	}

	return ch, unsubscribe
}

// remove closes ch if it is still subscribed. Caller holds s.mu.
func (s *Service) remove(ch chan protocol.Message) bool {
	if _, exists := s.subscribers[ch]; !exists {
		return false
	}
	delete(s.subscribers, ch)
	close(ch)
	return true
}

// Notify broadcasts a message to all subscribers, including the session whose
// request caused it.
func (s *Service) Notify(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.metrics.Broadcast(string(msg.Type))

	for ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
			s.remove(ch)
			s.metrics.Evicted()
			s.logger.Warn().
				Str("type", string(msg.Type)).
				Int("buffer", s.buffer).
				Msg("subscriber queue full, evicting")
		}
	}
}

// Shutdown closes every subscription; later Notify calls are no-ops
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan protocol.Message]struct{})
}

// SubscriberCount returns the number of active subscribers
func (s *Service) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
