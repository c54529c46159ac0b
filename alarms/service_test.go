package alarms

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaoyuanzhu-com/sync-alarm/db"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Notify(msg protocol.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	database, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "alarms.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	rec := &recorder{}
	return NewService(database, rec, nil), rec
}

func TestCreate_ListContainsExactlyOne(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	for _, in := range []struct{ title, time string }{
		{"Wake", "07:00"},
		{"Wake", "07:00"},
		{"Lunch", "12:30"},
	} {
		a, err := svc.Create(ctx, in.title, in.time)
		require.NoError(t, err)
		assert.False(t, seen[a.ID], "id %d reused", a.ID)
		seen[a.ID] = true

		list, err := svc.List(ctx)
		require.NoError(t, err)
		n := 0
		for _, got := range list {
			if got.ID == a.ID {
				n++
				assert.Equal(t, in.title, got.Title)
				assert.Equal(t, in.time, got.Time)
				assert.True(t, got.Enabled)
			}
		}
		assert.Equal(t, 1, n)
	}

	msgs := rec.all()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, protocol.TypeAlarmCreated, m.Type)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "   ", "07:00")
	assert.ErrorIs(t, err, ErrInvalidTitle)

	for _, bad := range []string{"7:00", "24:00", "07:60", "", "noon"} {
		_, err = svc.Create(ctx, "Wake", bad)
		assert.ErrorIs(t, err, ErrInvalidTime, bad)
	}
	assert.Empty(t, rec.all(), "failed creates must not broadcast")
}

func TestList_EmptyIsNotNil(t *testing.T) {
	svc, _ := newTestService(t)
	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestList_NonDecreasingByTime(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, tm := range []string{"23:00", "00:01", "12:00", "07:45", "07:05"} {
		_, err := svc.Create(ctx, "x", tm)
		require.NoError(t, err)
	}
	list, err := svc.List(ctx)
	require.NoError(t, err)
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].Time, list[i].Time)
	}
}

func TestSnooze_AdvancesFiveMinutesWithWrap(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	cases := map[string]string{
		"07:00": "07:05",
		"07:58": "08:03",
		"23:57": "00:02",
	}
	for from, want := range cases {
		a, err := svc.Create(ctx, "x", from)
		require.NoError(t, err)

		snoozed, err := svc.Snooze(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, want, snoozed.Time)
		assert.Equal(t, a.ID, snoozed.ID)

		last := rec.all()[len(rec.all())-1]
		assert.Equal(t, protocol.TypeAlarmUpdated, last.Type)
		assert.Equal(t, want, last.Alarm.Time)

		stored, err := svc.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Time)
	}
}

func TestUnknownID_IsNotFound(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Snooze(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.SetEnabled(ctx, 404, true)
	assert.True(t, errors.Is(err, ErrNotFound))
	err = svc.Delete(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.Get(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Empty(t, rec.all())
}

func TestSetEnabledAndDelete_Announce(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "Wake", "07:00")
	require.NoError(t, err)

	updated, err := svc.SetEnabled(ctx, a.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	require.NoError(t, svc.Delete(ctx, a.ID))

	msgs := rec.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.TypeAlarmUpdated, msgs[1].Type)
	assert.False(t, msgs[1].Alarm.Enabled)
	assert.Equal(t, protocol.TypeAlarmDeleted, msgs[2].Type)
	assert.Equal(t, a.ID, *msgs[2].ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
