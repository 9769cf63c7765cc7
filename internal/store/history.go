package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"transcriptor-pro/internal/types"
)

// HistoryStore is the append-only completion log.
type HistoryStore interface {
	Append(rec types.HistoryRecord) error
	All() ([]types.HistoryRecord, error)
}

// FileHistoryStore appends one JSON line per record.
type FileHistoryStore struct {
	mu   sync.Mutex
	path string
}

func NewFileHistoryStore(path string) *FileHistoryStore {
	return &FileHistoryStore{path: path}
}

func (s *FileHistoryStore) Append(rec types.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *FileHistoryStore) All() ([]types.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var out []types.HistoryRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.HistoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip torn lines rather than losing the whole archive.
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
