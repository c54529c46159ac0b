package db

import (
	"fmt"
	"time"
)

// DefaultBusyTimeout is how long a statement waits on the write lock
const DefaultBusyTimeout = 5 * time.Second

// Config holds database configuration
type Config struct {
	Path string

	// The alarm table has one writer; more connections only add lock waits
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration // zero never expires
	BusyTimeout     time.Duration

	LogQueries bool
}

// NewConfig returns the single-writer settings for the alarm store at path
func NewConfig(path string) Config {
	return Config{
		Path:         path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  DefaultBusyTimeout,
	}
}

// dsn builds the go-sqlite3 connection string, filling unset fields
func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	return fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		c.Path, busy.Milliseconds())
}
