package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

// State is the device-scoped snapshot kept between runs. It only serves as
// a cold-start fallback until the first list fetch succeeds.
type State struct {
	Role   models.Role    `json:"role,omitempty"`
	Alarms []models.Alarm `json:"alarms"`
}

// Cache persists State
type Cache interface {
	Load() (State, error)
	Save(State) error
}

// FileCache keeps State in a JSON file
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache creates a cache backed by path. The file is created on first save.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load reads the cached state. A missing file is an empty state.
func (c *FileCache) Load() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read cache: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse cache %s: %w", c.path, err)
	}
	return s, nil
}

// Save writes the state atomically (temp file + rename)
func (c *FileCache) Save(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Alarms == nil {
		s.Alarms = []models.Alarm{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// MemoryCache keeps State in memory, for devices that should not touch disk
type MemoryCache struct {
	mu    sync.Mutex
	state State
}

func (c *MemoryCache) Load() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Alarms = append([]models.Alarm(nil), c.state.Alarms...)
	return s, nil
}

func (c *MemoryCache) Save(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Role: s.Role, Alarms: append([]models.Alarm(nil), s.Alarms...)}
	return nil
}
