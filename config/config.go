package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Data directory
	DataDir string

	// Database
	DatabasePath string

	// Push channel
	SendBuffer int // per-session outbound queue length

	// Device (client) settings
	ServerURL      string
	Role           string // "main" or "receiver"
	CachePath      string
	ReconnectDelay time.Duration

	// Debug settings
	LogLevel     string
	DBLogQueries bool
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	dataDir := getEnv("SYNCALARM_DATA_DIR", "./data")

	return &Config{
		// Server
		Port: getEnvInt("PORT", 3000),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Data
		DataDir:      dataDir,
		DatabasePath: getEnv("SYNCALARM_DB_PATH", filepath.Join(dataDir, "alarms.sqlite")),

		SendBuffer: getEnvInt("SYNCALARM_SEND_BUFFER", 64),

		// Device
		ServerURL:      getEnv("SYNCALARM_SERVER_URL", "http://localhost:3000"),
		Role:           getEnv("SYNCALARM_ROLE", ""), // empty reuses the cached role
		CachePath:      getEnv("SYNCALARM_CACHE_PATH", filepath.Join(dataDir, "device.json")),
		ReconnectDelay: getEnvDuration("SYNCALARM_RECONNECT_DELAY", 3*time.Second),

		// Debug
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DBLogQueries: getEnv("DB_LOG_QUERIES", "") == "1",
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
