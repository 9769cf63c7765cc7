package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Today returns the current usage-bucket date.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// UsageStore tracks daily seconds per identifier (agent name or key). Add
// must be atomic: concurrent pipelines increment the same key counter.
type UsageStore interface {
	Add(date, id string, seconds float64) error
	Get(date, id string) float64
	Day(date string) map[string]float64
}

// FileUsageStore is a date -> id -> seconds map mirrored to one JSON file.
// One instance per counter family (agents, keys).
type FileUsageStore struct {
	mu    sync.Mutex
	path  string
	days  map[string]map[string]float64
}

func NewFileUsageStore(path string) (*FileUsageStore, error) {
	s := &FileUsageStore{path: path, days: make(map[string]map[string]float64)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read usage store: %w", err)
	}
	if err := json.Unmarshal(data, &s.days); err != nil {
		return nil, fmt.Errorf("parse usage store: %w", err)
	}
	return s, nil
}

func (s *FileUsageStore) Add(date, id string, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.days[date]
	if day == nil {
		day = make(map[string]float64)
		s.days[date] = day
	}
	day[id] += seconds
	return s.flush()
}

func (s *FileUsageStore) Get(date, id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days[date][id]
}

// Day returns a copy of one day's counters.
func (s *FileUsageStore) Day(date string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.days[date]))
	for id, v := range s.days[date] {
		out[id] = v
	}
	return out
}

func (s *FileUsageStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.days, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
