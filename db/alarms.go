package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

const alarmColumns = "id, title, time, enabled, created_at"

// scanAlarm scans a row into an Alarm
func scanAlarm(row interface{ Scan(...any) error }) (models.Alarm, error) {
	var a models.Alarm
	var enabled int
	var createdAt int64
	if err := row.Scan(&a.ID, &a.Title, &a.Time, &enabled, &createdAt); err != nil {
		return a, err
	}
	a.Enabled = enabled == 1
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return a, nil
}

// ListAlarms returns every alarm ordered by time ascending
func (d *DB) ListAlarms(ctx context.Context) ([]models.Alarm, error) {
	return Select(ctx, d,
		"SELECT "+alarmColumns+" FROM alarms ORDER BY time ASC, id ASC",
		nil,
		func(rows *sql.Rows) (models.Alarm, error) { return scanAlarm(rows) },
	)
}

// GetAlarm returns the alarm with the given id, or nil if there is none
func (d *DB) GetAlarm(ctx context.Context, id int64) (*models.Alarm, error) {
	return SelectOne(ctx, d,
		"SELECT "+alarmColumns+" FROM alarms WHERE id = ?",
		[]QueryParam{id},
		func(row *sql.Row) (models.Alarm, error) { return scanAlarm(row) },
	)
}

// InsertAlarm stores a new enabled alarm and returns it with its assigned id
func (d *DB) InsertAlarm(ctx context.Context, title, clock string) (*models.Alarm, error) {
	now := NowMs()
	res, err := d.Run(ctx,
		"INSERT INTO alarms (title, time, enabled, created_at) VALUES (?, ?, 1, ?)",
		title, clock, now,
	)
	if err != nil {
		return nil, err
	}
	return &models.Alarm{
		ID:        res.LastInsertID,
		Title:     title,
		Time:      clock,
		Enabled:   true,
		CreatedAt: time.UnixMilli(now).UTC(),
	}, nil
}

// UpdateAlarmEnabled sets the enabled flag. Returns false if no row matched.
func (d *DB) UpdateAlarmEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	flag := 0
	if enabled {
		flag = 1
	}
	res, err := d.Run(ctx, "UPDATE alarms SET enabled = ? WHERE id = ?", flag, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// UpdateAlarmTime sets the wall-clock time. Returns false if no row matched.
func (d *DB) UpdateAlarmTime(ctx context.Context, id int64, clock string) (bool, error) {
	res, err := d.Run(ctx, "UPDATE alarms SET time = ? WHERE id = ?", clock, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// DeleteAlarm removes an alarm. Returns false if no row matched.
func (d *DB) DeleteAlarm(ctx context.Context, id int64) (bool, error) {
	res, err := d.Run(ctx, "DELETE FROM alarms WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// CountAlarms returns the number of stored alarms
func (d *DB) CountAlarms(ctx context.Context) (int64, error) {
	return d.Count(ctx, "SELECT COUNT(*) FROM alarms")
}

// NowMs returns the current time as Unix milliseconds (int64)
func NowMs() int64 {
	return time.Now().UnixMilli()
}
