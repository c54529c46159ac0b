package db

import (
	"strings"
	"testing"
	"time"
)

func TestNewConfig_SingleWriter(t *testing.T) {
	cfg := NewConfig("alarms.sqlite")
	if cfg.MaxOpenConns != 1 || cfg.MaxIdleConns != 1 {
		t.Errorf("expected one connection, got open=%d idle=%d", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 0 {
		t.Errorf("expected connections to never expire, got %v", cfg.ConnMaxLifetime)
	}
	if !strings.Contains(cfg.dsn(), "_busy_timeout=5000") {
		t.Errorf("dsn missing default busy timeout: %s", cfg.dsn())
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Path: "/data/alarms.sqlite", BusyTimeout: 250 * time.Millisecond}
	dsn := cfg.dsn()
	if !strings.HasPrefix(dsn, "/data/alarms.sqlite?") {
		t.Errorf("dsn should start with the path: %s", dsn)
	}
	for _, want := range []string{"_journal_mode=WAL", "_busy_timeout=250", "_foreign_keys=1"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn missing %s: %s", want, dsn)
		}
	}

	// zero values fall back to the defaults
	if !strings.Contains(Config{Path: "x"}.dsn(), "_busy_timeout=5000") {
		t.Error("unset busy timeout should use the default")
	}
}
