package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mbecker/ankigen/internal/observability"
)

// FileStore persists progress as one JSON file per job identity under a
// base directory. Durability comes from the write-temp/fsync/rename cycle:
// a crash mid-write leaves the previous file intact, never a torn one.
type FileStore struct {
	dir string
	log *observability.Logger
	mu  sync.Mutex
}

// NewFileStore creates the base directory if needed and returns the store.
func NewFileStore(dir string, log *observability.Logger) (*FileStore, error) {
	if log == nil {
		log = observability.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Load reads all records for a job. A missing file means a fresh job; an
// unreadable or corrupt file is treated as empty (every unit pending) so a
// damaged store never fails the whole job.
func (s *FileStore) Load(_ context.Context, jobID string) (map[UnitKey]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(jobID), nil
}

func (s *FileStore) loadLocked(jobID string) map[UnitKey]Record {
	records := make(map[UnitKey]Record)

	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("progress file unreadable, starting fresh", "job", jobID, "error", err)
		}
		return records
	}

	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Warn("progress file corrupt, starting fresh", "job", jobID, "error", err)
		return records
	}

	for keyStr, rec := range raw {
		key, err := ParseUnitKey(keyStr)
		if err != nil {
			s.log.Warn("dropping record with malformed key", "job", jobID, "key", keyStr)
			continue
		}
		records[key] = normalize(rec)
	}
	return records
}

// Upsert rewrites the job file with the record applied. The write is atomic
// with respect to process crashes.
func (s *FileStore) Upsert(_ context.Context, jobID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.loadLocked(jobID)
	records[rec.Key()] = rec

	raw := make(map[string]Record, len(records))
	for key, r := range records {
		raw[key.String()] = r
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	return writeFileAtomic(s.path(jobID), data)
}

// IsComplete reports whether the unit's stored record is complete.
func (s *FileStore) IsComplete(_ context.Context, jobID string, key UnitKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.loadLocked(jobID)[key]
	return ok && rec.Status == StatusComplete, nil
}

// Clear removes every record for the job identity.
func (s *FileStore) Clear(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a sibling temp file, syncs it, and renames
// it over the target.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close progress file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	return nil
}
