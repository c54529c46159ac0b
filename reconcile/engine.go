package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

var (
	// ErrKicked is returned by HandleMessage when a main device removed us
	ErrKicked = errors.New("removed by the main device")

	// ErrInvalidTitle rejects an empty title before anything is applied
	ErrInvalidTitle = errors.New("title must not be empty")
)

// Presence is the last presence snapshot received
type Presence struct {
	Count   int             `json:"count"`
	Devices []models.Device `json:"devices"`
}

// FlushResult reports what happened to one replayed action
type FlushResult struct {
	Action PendingAction
	Err    error
}

// pendingCreate records what happened to a temporary alarm while its
// create was on the wire
type pendingCreate struct {
	deleted bool
	enabled *bool
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used to stamp notifications and temporary alarms
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier registers a callback for every notification raised. It runs
// with the engine locked and must not call back into the engine.
func WithNotifier(fn func(Notification)) Option {
	return func(e *Engine) { e.notify = fn }
}

// Engine is one device's view of the shared alarm list
type Engine struct {
	mu      sync.Mutex
	flushMu sync.Mutex

	api   API
	cache Cache

	role      models.Role
	selfID    string
	connected bool
	alarms    []models.Alarm
	queue     []PendingAction
	inflight  map[int64]*pendingCreate
	presence  Presence
	notices   []Notification

	nextTemp   int64
	nextNotice int64

	now    func() time.Time
	notify func(Notification)
	logger zerolog.Logger
}

// NewEngine creates an engine. An empty role is filled from the cache on Load.
func NewEngine(api API, cache Cache, role models.Role, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		cache:    cache,
		role:     role,
		alarms:   []models.Alarm{},
		inflight: make(map[int64]*pendingCreate),
		nextTemp: -1,
		now:      time.Now,
		logger:   log.GetLogger("Reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load hydrates from the cache and then replaces local state with the
// server's list. Failing to reach the server is not an error: the cached
// snapshot stays until the push channel connects.
func (e *Engine) Load(ctx context.Context) error {
	state, err := e.cache.Load()
	if err != nil {
		e.logger.Warn().Err(err).Msg("ignoring unreadable cache")
	}

	e.mu.Lock()
	if e.role == "" {
		e.role = state.Role
	}
	if state.Alarms != nil {
		e.alarms = slices.Clone(state.Alarms)
		models.SortAlarms(e.alarms)
	}
	for _, a := range e.alarms {
		if a.ID <= e.nextTemp {
			e.nextTemp = a.ID - 1
		}
	}
	e.persistLocked()
	e.mu.Unlock()

	if err := e.Refresh(ctx); err != nil {
		if errors.Is(err, ErrTransport) {
			e.logger.Warn().Err(err).Msg("server unreachable, using cached alarms")
			return nil
		}
		return err
	}
	return nil
}

// Refresh fetches the authoritative list and replaces local state with it
func (e *Engine) Refresh(ctx context.Context) error {
	alarms, err := e.api.ListAlarms(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch alarms: %w", err)
	}
	models.SortAlarms(alarms)

	e.mu.Lock()
	e.alarms = alarms
	e.persistLocked()
	e.mu.Unlock()
	return nil
}

// Create adds an alarm. It appears locally at once under a negative id;
// when the server cannot be reached the create is queued and the temporary
// alarm is returned with a nil error.
func (e *Engine) Create(ctx context.Context, title, clock string) (models.Alarm, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Alarm{}, ErrInvalidTitle
	}
	if _, err := models.ParseClock(clock); err != nil {
		return models.Alarm{}, err
	}

	e.mu.Lock()
	temp := models.Alarm{
		ID:        e.nextTemp,
		Title:     title,
		Time:      clock,
		Enabled:   true,
		CreatedAt: e.now().UTC(),
	}
	e.nextTemp--
	e.inflight[temp.ID] = &pendingCreate{}
	e.applyLocked(CreateAction(temp))
	e.mu.Unlock()

	created, err := e.api.CreateAlarm(ctx, title, clock)
	switch {
	case err == nil:
		return e.settle(ctx, temp.ID, created)

	case errors.Is(err, ErrTransport):
		e.mu.Lock()
		defer e.mu.Unlock()
		p := e.takeInflightLocked(temp.ID)
		if p.deleted {
			return temp, nil
		}
		e.queue = append(e.queue, CreateAction(temp))
		if p.enabled != nil {
			e.queue = append(e.queue, UpdateAction(temp.ID, *p.enabled))
		}
		e.logger.Info().Err(err).Int64("tempId", temp.ID).Msg("offline: alarm saved locally")
		e.raiseLocked(temp.ID, "Offline Mode", "Alarm saved locally. Will sync when online.")
		return temp, nil

	case errors.Is(err, ErrBadResponse):
		// the server may hold the alarm under an id we never saw; its list decides
		e.mu.Lock()
		e.takeInflightLocked(temp.ID)
		e.mu.Unlock()
		e.logger.Warn().Err(err).Int64("tempId", temp.ID).Msg("create outcome unknown, refreshing")
		if rerr := e.Refresh(ctx); rerr != nil {
			e.logger.Warn().Err(rerr).Msg("refresh after create failed")
		}
		return temp, nil

	default:
		e.mu.Lock()
		defer e.mu.Unlock()
		e.takeInflightLocked(temp.ID)
		e.applyLocked(DeleteAction(temp.ID))
		return models.Alarm{}, err
	}
}

// settle swaps a temporary alarm for the one the server created and
// forwards any change made to the temporary alarm in the meantime.
func (e *Engine) settle(ctx context.Context, tempID int64, created models.Alarm) (models.Alarm, error) {
	e.mu.Lock()
	p := e.takeInflightLocked(tempID)
	e.swapLocked(tempID, created, p)
	e.mu.Unlock()

	if err := e.forward(ctx, created.ID, p); err != nil {
		return created, err
	}
	if p.enabled != nil {
		created.Enabled = *p.enabled
	}
	return created, nil
}

func (e *Engine) swapLocked(tempID int64, created models.Alarm, p *pendingCreate) {
	if p.deleted {
		// also drops a copy that arrived over the push channel
		e.applyLocked(DeleteAction(created.ID))
		return
	}
	e.alarms = replace(e.alarms, tempID, created)
	e.persistLocked()
}

// forward applies to the server alarm what was done to its temporary one
func (e *Engine) forward(ctx context.Context, id int64, p *pendingCreate) error {
	switch {
	case p.deleted:
		return e.Delete(ctx, id)
	case p.enabled != nil:
		return e.SetEnabled(ctx, id, *p.enabled)
	}
	return nil
}

func (e *Engine) takeInflightLocked(tempID int64) *pendingCreate {
	p, ok := e.inflight[tempID]
	if !ok {
		return &pendingCreate{}
	}
	delete(e.inflight, tempID)
	return p
}

// SetEnabled toggles an alarm locally and on the server
func (e *Engine) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	action := UpdateAction(id, enabled)

	e.mu.Lock()
	if models.FindAlarm(e.alarms, id) < 0 {
		e.mu.Unlock()
		return ErrNotFound
	}
	e.applyLocked(action)
	if id < 0 {
		if p, ok := e.inflight[id]; ok {
			p.enabled = &enabled
		} else {
			// not on the server yet; ride along with the queued create
			e.queue = append(e.queue, action)
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	updated, err := e.api.SetEnabled(ctx, id, enabled)

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case err == nil:
		e.alarms = replace(e.alarms, id, updated)
		e.persistLocked()
		return nil
	case errors.Is(err, ErrTransport):
		e.queue = append(e.queue, action)
		e.logger.Info().Err(err).Int64("id", id).Msg("offline: change saved locally")
		return nil
	case errors.Is(err, ErrNotFound):
		e.applyLocked(DeleteAction(id))
		return err
	default:
		return err
	}
}

// Delete removes an alarm locally and on the server
func (e *Engine) Delete(ctx context.Context, id int64) error {
	action := DeleteAction(id)

	e.mu.Lock()
	e.applyLocked(action)
	if id < 0 {
		// never reached the server: drop everything queued for it
		e.queue = slices.DeleteFunc(e.queue, func(a PendingAction) bool { return a.target() == id })
		if p, ok := e.inflight[id]; ok {
			p.deleted = true
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	err := e.api.DeleteAlarm(ctx, id)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrTransport):
		e.mu.Lock()
		e.queue = append(e.queue, action)
		e.mu.Unlock()
		e.logger.Info().Err(err).Int64("id", id).Msg("offline: deletion saved locally")
		return nil
	default:
		return err
	}
}

// Snooze pushes an alarm back on the server. It is not applied optimistically
// and not queued; the local copy changes when the server answers.
func (e *Engine) Snooze(ctx context.Context, id int64) (models.Alarm, error) {
	if id < 0 {
		return models.Alarm{}, fmt.Errorf("%w: alarm %d is not synced yet", ErrNotFound, id)
	}
	updated, err := e.api.SnoozeAlarm(ctx, id)
	if err != nil {
		e.logger.Warn().Err(err).Int64("id", id).Msg("failed to snooze alarm")
		return models.Alarm{}, err
	}

	e.mu.Lock()
	e.alarms = replace(e.alarms, id, updated)
	e.persistLocked()
	e.mu.Unlock()
	return updated, nil
}

// Flush replays the pending queue in order, once each, then re-fetches the
// list so the server copy wins. A failed action is logged and dropped.
// Temporary ids are rewritten to the ids the replayed creates received.
func (e *Engine) Flush(ctx context.Context) ([]FlushResult, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	queue := e.queue
	e.queue = nil
	for _, action := range queue {
		if action.Kind == KindCreate {
			e.inflight[action.Alarm.ID] = &pendingCreate{}
		}
	}
	e.mu.Unlock()

	results := make([]FlushResult, 0, len(queue))
	ids := make(map[int64]int64)

	for _, action := range queue {
		err := e.replay(ctx, action, ids)
		if err != nil {
			e.logger.Warn().Err(err).Str("kind", string(action.Kind)).Int64("id", action.target()).Msg("dropping pending action")
		}
		results = append(results, FlushResult{Action: action, Err: err})
	}

	// changes made while the batch was on the wire come after it
	for tempID, id := range ids {
		e.mu.Lock()
		p := e.takeInflightLocked(tempID)
		e.mu.Unlock()
		if err := e.forward(ctx, id, p); err != nil {
			e.logger.Warn().Err(err).Int64("id", id).Msg("failed to forward change to synced alarm")
		}
	}

	if len(queue) > 0 {
		e.logger.Info().Int("actions", len(queue)).Msg("pending queue flushed")
	}
	return results, e.Refresh(ctx)
}

func (e *Engine) replay(ctx context.Context, action PendingAction, ids map[int64]int64) error {
	id := action.ID
	if action.Kind != KindCreate && id < 0 {
		mapped, ok := ids[id]
		if !ok {
			return fmt.Errorf("%w: create for %d was not replayed", ErrNotFound, id)
		}
		id = mapped
	}

	switch action.Kind {
	case KindCreate:
		created, err := e.api.CreateAlarm(ctx, action.Alarm.Title, action.Alarm.Time)
		if err != nil {
			e.mu.Lock()
			e.takeInflightLocked(action.Alarm.ID)
			e.mu.Unlock()
			return err
		}
		ids[action.Alarm.ID] = created.ID
		e.mu.Lock()
		p, ok := e.inflight[action.Alarm.ID]
		if !ok {
			p = &pendingCreate{}
		}
		e.swapLocked(action.Alarm.ID, created, p)
		e.mu.Unlock()
		return nil
	case KindUpdate:
		_, err := e.api.SetEnabled(ctx, id, action.Enabled)
		return err
	case KindDelete:
		err := e.api.DeleteAlarm(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// Resync runs on every push channel (re)connect
func (e *Engine) Resync(ctx context.Context) error {
	if _, err := e.Flush(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.raiseLocked(0, "Synced", "Connection restored. Alarms updated.")
	e.mu.Unlock()
	return nil
}

// HandleMessage merges one push message into local state. It returns
// ErrKicked when the message removes this device; the caller should
// disconnect and stop reconnecting.
func (e *Engine) HandleMessage(msg protocol.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.Type {
	case protocol.TypeWelcome:
		e.selfID = msg.SessionID

	case protocol.TypePresenceUpdate:
		e.presence = Presence{Devices: slices.Clone(msg.Devices)}
		if msg.Count != nil {
			e.presence.Count = *msg.Count
		}

	case protocol.TypeKicked:
		if e.selfID == "" || msg.TargetID != e.selfID {
			return nil
		}
		e.role = ""
		e.persistLocked()
		e.raiseLocked(0, "Disconnected", "You have been removed by the administrator.")
		return ErrKicked

	case protocol.TypeAlarmCreated:
		if models.FindAlarm(e.alarms, msg.Alarm.ID) < 0 {
			e.applyLocked(CreateAction(*msg.Alarm))
		}

	case protocol.TypeAlarmUpdated:
		if models.FindAlarm(e.alarms, msg.Alarm.ID) >= 0 {
			e.alarms = replace(e.alarms, msg.Alarm.ID, *msg.Alarm)
			e.persistLocked()
		}

	case protocol.TypeAlarmDeleted:
		e.applyLocked(DeleteAction(*msg.ID))

	default:
		e.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring push message")
	}
	return nil
}

// Tick computes the derived alarm state at now and fires due notifications.
// It is meant to run once a second.
func (e *Engine) Tick(now time.Time) Derived {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.expireLocked(now)

	d := Derived{Triggering: []int64{}, Warning: []int64{}}
	for _, alarm := range e.alarms {
		if !alarm.Enabled {
			continue
		}
		ev, ok := evaluate(alarm, now)
		if !ok {
			continue
		}
		if ev.triggering {
			d.Triggering = append(d.Triggering, alarm.ID)
		}
		if ev.warning {
			d.Warning = append(d.Warning, alarm.ID)
		}
		if ev.advance {
			if n, ok := e.raiseAtLocked(now, alarm.ID, alarm.Title, msgAdvance); ok {
				d.Fired = append(d.Fired, n)
			}
		}
		if ev.ring {
			if n, ok := e.raiseAtLocked(now, alarm.ID, alarm.Title, msgNow); ok {
				d.Fired = append(d.Fired, n)
			}
		}
	}
	return d
}

// Notifications returns the notifications still active at now
func (e *Engine) Notifications(now time.Time) []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(now)
	return slices.Clone(e.notices)
}

// Alarms returns a copy of the local alarm list
func (e *Engine) Alarms() []models.Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.alarms)
}

// Pending returns a copy of the queued actions
func (e *Engine) Pending() []PendingAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.queue)
}

// Presence returns the last presence snapshot
func (e *Engine) Presence() Presence {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.presence
	p.Devices = slices.Clone(p.Devices)
	return p
}

func (e *Engine) Role() models.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// SelfID is the session id the server assigned on the current connection
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// SetConnected records push channel state. A new connection gets a new
// session id, so the old one is forgotten on disconnect.
func (e *Engine) SetConnected(connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = connected
	if !connected {
		e.selfID = ""
	}
}

func (e *Engine) applyLocked(action PendingAction) {
	e.alarms = Apply(e.alarms, action)
	e.persistLocked()
}

func (e *Engine) persistLocked() {
	if err := e.cache.Save(State{Role: e.role, Alarms: e.alarms}); err != nil {
		e.logger.Warn().Err(err).Msg("failed to save cache")
	}
}

func (e *Engine) raiseLocked(alarmID int64, title, message string) {
	e.raiseAtLocked(e.now(), alarmID, title, message)
}

// raiseAtLocked adds a notification unless an identical one is still active
func (e *Engine) raiseAtLocked(now time.Time, alarmID int64, title, message string) (Notification, bool) {
	e.expireLocked(now)
	for _, n := range e.notices {
		if n.Title == title && n.Message == message {
			return Notification{}, false
		}
	}

	e.nextNotice++
	n := Notification{
		ID:      e.nextNotice,
		AlarmID: alarmID,
		Title:   title,
		Message: message,
		At:      now,
		Expires: now.Add(NotificationLifetime),
	}
	e.notices = append(e.notices, n)
	if e.notify != nil {
		e.notify(n)
	}
	return n, true
}

func (e *Engine) expireLocked(now time.Time) {
	e.notices = slices.DeleteFunc(e.notices, func(n Notification) bool {
		return !now.Before(n.Expires)
	})
}
