package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "alarms.sqlite")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_AppliesMigrations(t *testing.T) {
	d := openTestDB(t)
	v, err := d.CurrentVersion()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Errorf("expected schema version >= 1, got %d", v)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.sqlite")
	ctx := context.Background()

	d, err := Open(NewConfig(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := d.InsertAlarm(ctx, "Wake", "07:00"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d.Close()

	d, err = Open(NewConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	n, err := d.CountAlarms(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected 1 alarm after reopen, got %d (%v)", n, err)
	}
}

func TestInsertAndList_OrderedByTime(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for _, in := range []struct{ title, time string }{
		{"late", "22:15"},
		{"early", "06:30"},
		{"noon", "12:00"},
	} {
		a, err := d.InsertAlarm(ctx, in.title, in.time)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if a.ID == 0 || !a.Enabled {
			t.Errorf("unexpected inserted alarm %+v", a)
		}
	}

	alarms, err := d.ListAlarms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alarms) != 3 {
		t.Fatalf("expected 3 alarms, got %d", len(alarms))
	}
	for i := 1; i < len(alarms); i++ {
		if alarms[i-1].Time > alarms[i].Time {
			t.Errorf("list not ordered: %s before %s", alarms[i-1].Time, alarms[i].Time)
		}
	}
}

func TestIDsAreNotReused(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	a, _ := d.InsertAlarm(ctx, "a", "07:00")
	if _, err := d.DeleteAlarm(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b, _ := d.InsertAlarm(ctx, "b", "07:00")
	if b.ID == a.ID {
		t.Errorf("expected a fresh id, got reused %d", b.ID)
	}
}

func TestUpdates_ReportMissingRows(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	ok, err := d.UpdateAlarmEnabled(ctx, 999, false)
	if err != nil || ok {
		t.Errorf("expected no match for unknown id, got ok=%v err=%v", ok, err)
	}
	ok, err = d.UpdateAlarmTime(ctx, 999, "07:00")
	if err != nil || ok {
		t.Errorf("expected no match for unknown id, got ok=%v err=%v", ok, err)
	}
	ok, err = d.DeleteAlarm(ctx, 999)
	if err != nil || ok {
		t.Errorf("expected no match for unknown id, got ok=%v err=%v", ok, err)
	}
	got, err := d.GetAlarm(ctx, 999)
	if err != nil || got != nil {
		t.Errorf("expected nil alarm, got %+v (%v)", got, err)
	}
}

func TestUpdateEnabledAndTime(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	a, _ := d.InsertAlarm(ctx, "Wake", "07:00")
	if ok, err := d.UpdateAlarmEnabled(ctx, a.ID, false); err != nil || !ok {
		t.Fatalf("update enabled: ok=%v err=%v", ok, err)
	}
	if ok, err := d.UpdateAlarmTime(ctx, a.ID, "07:05"); err != nil || !ok {
		t.Fatalf("update time: ok=%v err=%v", ok, err)
	}

	got, err := d.GetAlarm(ctx, a.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled || got.Time != "07:05" || got.Title != "Wake" {
		t.Errorf("unexpected alarm after updates: %+v", got)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at changed: %v vs %v", got.CreatedAt, a.CreatedAt)
	}
}
