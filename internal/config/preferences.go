package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Preference keys shared by the wallet session and the swap store
const (
	PrefLastWalletKind = "last_connected_wallet_type"
	PrefSwapFromToken  = "swap_from_token"
	PrefSwapToToken    = "swap_to_token"
)

// Preferences is a string keyed, string valued persistent store
type Preferences interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryPreferences keeps preferences for the lifetime of the process
type MemoryPreferences struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryPreferences creates an empty in-memory store
func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{values: make(map[string]string)}
}

func (p *MemoryPreferences) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *MemoryPreferences) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}

func (p *MemoryPreferences) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return nil
}

// FilePreferences persists preferences as a flat YAML map.
// Every write rewrites the whole file.
type FilePreferences struct {
	path string
	mem  *MemoryPreferences
}

// OpenFilePreferences loads the file at path, treating a missing file as empty
func OpenFilePreferences(path string) (*FilePreferences, error) {
	p := &FilePreferences{path: path, mem: NewMemoryPreferences()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}

	if err := yaml.Unmarshal(data, &p.mem.values); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if p.mem.values == nil {
		p.mem.values = make(map[string]string)
	}
	return p, nil
}

func (p *FilePreferences) Get(key string) (string, bool) {
	return p.mem.Get(key)
}

func (p *FilePreferences) Set(key, value string) error {
	_ = p.mem.Set(key, value)
	return p.flush()
}

func (p *FilePreferences) Delete(key string) error {
	_ = p.mem.Delete(key)
	return p.flush()
}

func (p *FilePreferences) flush() error {
	p.mem.mu.RLock()
	data, err := yaml.Marshal(p.mem.values)
	p.mem.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	return os.WriteFile(p.path, data, 0o600)
}
