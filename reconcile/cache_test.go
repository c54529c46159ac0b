package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

func TestFileCache_MissingFileIsEmpty(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "nope", "device.json"))
	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, s)
}

func TestFileCache_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "device.json")
	c := NewFileCache(path)

	want := State{
		Role:   models.RoleMain,
		Alarms: []models.Alarm{{ID: 3, Title: "Wake", Time: "07:00", Enabled: true}},
	}
	require.NoError(t, c.Save(want))

	got, err := NewFileCache(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want.Role, got.Role)
	require.Len(t, got.Alarms, 1)
	assert.Equal(t, "Wake", got.Alarms[0].Title)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := NewFileCache(path).Load()
	assert.Error(t, err)

	// the engine survives a bad cache
	e := NewEngine(&fakeAPI{offline: true}, NewFileCache(path), models.RoleMain)
	require.NoError(t, e.Load(context.Background()))
	assert.Empty(t, e.Alarms())
}

func TestApply(t *testing.T) {
	local := []models.Alarm{
		{ID: 1, Title: "b", Time: "08:00", Enabled: true},
		{ID: 2, Title: "c", Time: "09:00", Enabled: true},
	}

	out := Apply(local, CreateAction(models.Alarm{ID: -1, Title: "a", Time: "07:00", Enabled: true}))
	require.Len(t, out, 3)
	assert.Equal(t, int64(-1), out[0].ID)
	assert.Len(t, local, 2, "input is not modified")

	out = Apply(out, UpdateAction(2, false))
	assert.False(t, out[2].Enabled)
	assert.True(t, local[1].Enabled)

	out = Apply(out, DeleteAction(1))
	assert.Equal(t, []int64{-1, 2}, []int64{out[0].ID, out[1].ID})

	assert.Equal(t, out, Apply(out, DeleteAction(99)))
	assert.Equal(t, out, Apply(out, UpdateAction(99, true)))
}
