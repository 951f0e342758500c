// Package store persists the filter rule list through a group/key
// configuration manager.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ConfigManager stores string values under a key within a group namespace.
type ConfigManager interface {
	// Get returns the value for group and key. ok is false if nothing is
	// stored there.
	Get(group, key string) (value string, ok bool, err error)

	// Set stores value under group and key.
	Set(group, key, value string) error
}

// document is the on-disk layout: group -> key -> value.
type document map[string]map[string]string

// FileConfigManager is a ConfigManager backed by a YAML file. Every Set
// rewrites the whole file atomically.
type FileConfigManager struct {
	path string

	mu  sync.RWMutex
	doc document
}

// Ensure FileConfigManager implements ConfigManager
var _ ConfigManager = (*FileConfigManager)(nil)

// NewFileConfigManager opens the settings file at path. A missing file is
// treated as empty and created on the first Set.
func NewFileConfigManager(path string) (m *FileConfigManager, err error) {
	defer func() { err = errors.Annotate(err, "opening settings %q: %w", path) }()

	m = &FileConfigManager{
		path: path,
		doc:  document{},
	}

	// #nosec G304 - The path comes from the user's own configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	} else if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(data, &m.doc); err != nil {
		return nil, err
	}

	if m.doc == nil {
		m.doc = document{}
	}

	return m, nil
}

// Path returns the settings file location.
func (m *FileConfigManager) Path() string {
	return m.path
}

// Get implements ConfigManager
func (m *FileConfigManager) Get(group, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.doc[group][key]
	return v, ok, nil
}

// Set implements ConfigManager
func (m *FileConfigManager) Set(group, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.doc[group]
	if !ok {
		keys = map[string]string{}
		m.doc[group] = keys
	}

	prev, had := keys[key]
	keys[key] = value

	if err := m.write(); err != nil {
		if had {
			keys[key] = prev
		} else {
			delete(keys, key)
		}
		return err
	}

	return nil
}

// write must be called with m.mu held.
func (m *FileConfigManager) write() error {
	data, err := yaml.Marshal(m.doc)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	if err = renameio.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("writing settings %q: %w", m.path, err)
	}

	return nil
}

// MemoryConfigManager is an in-memory ConfigManager.
type MemoryConfigManager struct {
	mu  sync.RWMutex
	doc document
}

// Ensure MemoryConfigManager implements ConfigManager
var _ ConfigManager = (*MemoryConfigManager)(nil)

// NewMemoryConfigManager creates an empty in-memory config manager.
func NewMemoryConfigManager() *MemoryConfigManager {
	return &MemoryConfigManager{doc: document{}}
}

// Get implements ConfigManager
func (m *MemoryConfigManager) Get(group, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.doc[group][key]
	return v, ok, nil
}

// Set implements ConfigManager
func (m *MemoryConfigManager) Set(group, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc[group] == nil {
		m.doc[group] = map[string]string{}
	}
	m.doc[group][key] = value
	return nil
}
