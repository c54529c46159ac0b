package server

import (
	"github.com/xiaoyuanzhu-com/sync-alarm/config"
	"github.com/xiaoyuanzhu-com/sync-alarm/db"
)

// Config holds server configuration
type Config struct {
	// Server infrastructure (immutable, requires restart)
	Port int
	Host string
	Env  string // "development" or "production"

	// Paths
	DatabasePath string

	// Push channel
	SendBuffer int

	// Debug settings
	DBLogQueries bool
}

// FromAppConfig derives the server configuration from the global config
func FromAppConfig(c *config.Config) *Config {
	return &Config{
		Port:         c.Port,
		Host:         c.Host,
		Env:          c.Env,
		DatabasePath: c.DatabasePath,
		SendBuffer:   c.SendBuffer,
		DBLogQueries: c.DBLogQueries,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ToDBConfig converts server config to database config
func (c *Config) ToDBConfig() db.Config {
	cfg := db.NewConfig(c.DatabasePath)
	cfg.LogQueries = c.DBLogQueries
	return cfg
}
