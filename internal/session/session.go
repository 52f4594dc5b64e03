// Package session persists the visible conversation to a local JSON
// snapshot so a restarted client resumes where it left off.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/log"
)

// Store reads and writes one conversation snapshot file. The snapshot is
// overwritten after every durable change and deleted on new-session.
// A file lock guards against a second client instance on the same path.
type Store struct {
	path   string
	lock   *flock.Flock
	logger log.Logger

	mu sync.Mutex
}

// New creates a snapshot store at path, creating parent directories as
// needed.
func New(path string, logger log.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("session: snapshot path is required")
	}
	if logger == nil {
		return nil, errors.New("session: logger is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("session: create snapshot directory: %w", err)
	}
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// Save overwrites the snapshot with the given messages. The write is
// atomic: a temp file in the same directory is renamed over the snapshot,
// so a crash mid-write never leaves a torn file.
func (s *Store) Save(messages []conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("session: acquire file lock: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("session: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: replace snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", "path", s.path, "messages", len(messages))
	return nil
}

// Load reads the snapshot. A missing file is an empty conversation, not an
// error. Transient placeholder entries are dropped on the way in.
func (s *Store) Load() ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("session: acquire file lock: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read snapshot: %w", err)
	}

	var messages []conversation.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("session: decode snapshot: %w", err)
	}

	kept := messages[:0]
	for _, m := range messages {
		if m.IsPlaceholder() {
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

// Delete removes the snapshot. Deleting a snapshot that does not exist is
// not an error.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("session: acquire file lock: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: delete snapshot: %w", err)
	}
	return nil
}
