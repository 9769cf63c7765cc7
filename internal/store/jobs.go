// Package store holds the file-backed implementations of the external
// collaborators: job persistence, daily usage counters, the append-only
// history log, and the manual key-lock map.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"transcriptor-pro/internal/types"
)

// JobStore persists job records keyed by id. Jobs are history: they are
// updated in place but never deleted.
type JobStore interface {
	Save(job types.Job) error
	Get(id string) (types.Job, bool)
	List() []types.Job
}

// FileJobStore keeps the full job map in memory and mirrors every save to a
// single JSON file.
type FileJobStore struct {
	mu   sync.Mutex
	path string
	jobs map[string]types.Job
}

func NewFileJobStore(path string) (*FileJobStore, error) {
	s := &FileJobStore{path: path, jobs: make(map[string]types.Job)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read job store: %w", err)
	}
	if err := json.Unmarshal(data, &s.jobs); err != nil {
		return nil, fmt.Errorf("parse job store: %w", err)
	}
	return s, nil
}

func (s *FileJobStore) Save(job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	return s.flush()
}

func (s *FileJobStore) Get(id string) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	return job, ok
}

// List returns all jobs in submission order.
func (s *FileJobStore) List() []types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (s *FileJobStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
