package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LockStore persists manual key locks independently of job state. A locked
// key is skipped by rotation until someone unlocks it again; quota exhaustion
// never locks a key by itself.
type LockStore struct {
	mu    sync.RWMutex
	path  string
	locks map[string]bool
}

func NewLockStore(path string) (*LockStore, error) {
	s := &LockStore{path: path, locks: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read lock store: %w", err)
	}
	if err := json.Unmarshal(data, &s.locks); err != nil {
		return nil, fmt.Errorf("parse lock store: %w", err)
	}
	return s, nil
}

func (s *LockStore) Locked(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[key]
}

// Toggle flips a key's lock and persists the map. Returns the new state.
func (s *LockStore) Toggle(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks[key] = !s.locks[key]
	if !s.locks[key] {
		delete(s.locks, key)
	}
	return s.locks[key], s.flush()
}

func (s *LockStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.locks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
