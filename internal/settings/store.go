// Package settings persists per-tool options such as the selected
// conversion direction and text encoding.
package settings

import (
	"errors"
	"sync"
)

// ErrLocked is returned when another process holds the settings lock.
var ErrLocked = errors.New("settings file is locked by another process")

// Keys stored for every tool.
const (
	KeyDirection = "direction"
	KeyEncoding  = "encoding"
)

// Store is a two-level key/value store: tool name, then option key.
type Store interface {
	Get(tool, key string) (string, bool)
	Set(tool, key, value string) error
}

// MemoryStore is an in-memory Store. The zero value is ready to use.
type MemoryStore struct {
	mu    sync.RWMutex
	tools map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(tool, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tools[tool][key]
	return v, ok
}

func (m *MemoryStore) Set(tool, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tools == nil {
		m.tools = make(map[string]map[string]string)
	}
	if m.tools[tool] == nil {
		m.tools[tool] = make(map[string]string)
	}
	m.tools[tool][key] = value
	return nil
}
