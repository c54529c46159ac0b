// Package alarms is the single writer for the alarm table.
//
// Every mutation commits to the store and then announces the result on the
// broadcast channel, both under one mutex so that announcements reach
// sessions in commit order. The two steps are not atomic: if the process
// dies between them the change is persisted but never announced, and clients
// only notice on their next full list fetch.
package alarms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/metrics"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

// SnoozeMinutes is how far Snooze pushes an alarm
const SnoozeMinutes = 5

var (
	ErrNotFound     = errors.New("alarm not found")
	ErrInvalidTitle = errors.New("title must not be empty")
	ErrInvalidTime  = models.ErrInvalidClock
)

// Store is the persistence the service writes through
type Store interface {
	ListAlarms(ctx context.Context) ([]models.Alarm, error)
	GetAlarm(ctx context.Context, id int64) (*models.Alarm, error)
	InsertAlarm(ctx context.Context, title, clock string) (*models.Alarm, error)
	UpdateAlarmEnabled(ctx context.Context, id int64, enabled bool) (bool, error)
	UpdateAlarmTime(ctx context.Context, id int64, clock string) (bool, error)
	DeleteAlarm(ctx context.Context, id int64) (bool, error)
}

// Broadcaster delivers a message to every session
type Broadcaster interface {
	Notify(msg protocol.Message)
}

// Service implements the alarm store contract
type Service struct {
	mu        sync.Mutex
	store     Store
	broadcast Broadcaster
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewService creates an alarm service
func NewService(store Store, b Broadcaster, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		broadcast: b,
		metrics:   m,
		logger:    log.GetLogger("Alarms"),
	}
}

// List returns all alarms ordered by time ascending
func (s *Service) List(ctx context.Context) ([]models.Alarm, error) {
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	if alarms == nil {
		alarms = []models.Alarm{}
	}
	return alarms, nil
}

// Get returns one alarm
func (s *Service) Get(ctx context.Context, id int64) (models.Alarm, error) {
	a, err := s.store.GetAlarm(ctx, id)
	if err != nil {
		return models.Alarm{}, fmt.Errorf("get alarm %d: %w", id, err)
	}
	if a == nil {
		return models.Alarm{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return *a, nil
}

// Create stores a new enabled alarm and announces ALARM_CREATED
func (s *Service) Create(ctx context.Context, title, clock string) (models.Alarm, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Alarm{}, ErrInvalidTitle
	}
	c, err := models.ParseClock(clock)
	if err != nil {
		return models.Alarm{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.InsertAlarm(ctx, title, c.String())
	if err != nil {
		return models.Alarm{}, fmt.Errorf("create alarm: %w", err)
	}
	s.announce("create", protocol.AlarmCreated(*a))
	s.logger.Info().Int64("id", a.ID).Str("time", a.Time).Msg("alarm created")
	return *a, nil
}

// SetEnabled toggles an alarm and announces ALARM_UPDATED
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) (models.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.UpdateAlarmEnabled(ctx, id, enabled)
	if err != nil {
		return models.Alarm{}, fmt.Errorf("update alarm %d: %w", id, err)
	}
	if !ok {
		return models.Alarm{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	a, err := s.reload(ctx, id)
	if err != nil {
		return models.Alarm{}, err
	}
	s.announce("update", protocol.AlarmUpdated(a))
	s.logger.Info().Int64("id", id).Bool("enabled", enabled).Msg("alarm updated")
	return a, nil
}

// Delete removes an alarm and announces ALARM_DELETED
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.DeleteAlarm(ctx, id)
	if err != nil {
		return fmt.Errorf("delete alarm %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.announce("delete", protocol.AlarmDeleted(id))
	s.logger.Info().Int64("id", id).Msg("alarm deleted")
	return nil
}

// Snooze moves an alarm SnoozeMinutes later, wrapping past midnight, and
// announces ALARM_UPDATED
func (s *Service) Snooze(ctx context.Context, id int64) (models.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.reload(ctx, id)
	if err != nil {
		return models.Alarm{}, err
	}
	c, err := models.ParseClock(current.Time)
	if err != nil {
		return models.Alarm{}, fmt.Errorf("alarm %d has corrupt time: %w", id, err)
	}
	next := c.Add(SnoozeMinutes).String()

	ok, err := s.store.UpdateAlarmTime(ctx, id, next)
	if err != nil {
		return models.Alarm{}, fmt.Errorf("snooze alarm %d: %w", id, err)
	}
	if !ok {
		return models.Alarm{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	current.Time = next
	s.announce("snooze", protocol.AlarmUpdated(current))
	s.logger.Info().Int64("id", id).Str("time", next).Msg("alarm snoozed")
	return current, nil
}

func (s *Service) reload(ctx context.Context, id int64) (models.Alarm, error) {
	a, err := s.store.GetAlarm(ctx, id)
	if err != nil {
		return models.Alarm{}, fmt.Errorf("load alarm %d: %w", id, err)
	}
	if a == nil {
		return models.Alarm{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return *a, nil
}

func (s *Service) announce(op string, msg protocol.Message) {
	s.metrics.Mutation(op)
	if s.broadcast != nil {
		s.broadcast.Notify(msg)
	}
}
