package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store loads and persists the posting history.
// Load never fails: an unreadable record yields an empty history.
type Store interface {
	Load(now time.Time) *History
	Save(h *History) error
}

// FileStore keeps the history in a JSON file, usage.json by default.
type FileStore struct {
	path      string
	retention time.Duration
	logger    *slog.Logger
}

func NewFileStore(path string, retention time.Duration, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:      path,
		retention: retention,
		logger:    logger.With("history", path),
	}
}

func (s *FileStore) Load(now time.Time) *History {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("History file not found, starting empty")
		} else {
			s.logger.Warn("Failed to read history, starting empty", "error", err)
		}
		return NewHistory()
	}

	h, skipped, err := decodeHistory(data)
	if err != nil {
		s.logger.Warn("History file is corrupt, starting empty", "error", err)
		return NewHistory()
	}
	for _, title := range skipped {
		s.logger.Warn("Dropping history entry with bad timestamp", "title", title)
	}

	if n := h.Prune(now, s.retention); n > 0 {
		s.logger.Debug("Pruned expired history entries", "count", n)
	}
	s.logger.Info("History loaded", "entries", len(h.Posted))
	return h
}

// Save overwrites the history file. The record is written to a temporary
// file in the same directory first and renamed into place.
func (s *FileStore) Save(h *History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}

	s.logger.Debug("History saved", "entries", len(h.Posted))
	return nil
}

// MemoryStore holds the history in memory. Dry runs use it so that
// usage.json is read but never written.
type MemoryStore struct {
	mu        sync.RWMutex
	data      *History
	retention time.Duration
}

func NewMemoryStore(seed *History, retention time.Duration) *MemoryStore {
	if seed == nil {
		seed = NewHistory()
	}
	return &MemoryStore{
		data:      seed.Clone(),
		retention: retention,
	}
}

func (s *MemoryStore) Load(now time.Time) *History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.data.Clone()
	h.Prune(now, s.retention)
	return h
}

func (s *MemoryStore) Save(h *History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = h.Clone()
	return nil
}
