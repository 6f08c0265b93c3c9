// Package jsonfile persists tracker state as a pretty-printed JSON file, for
// the single-user CLI. Writes go through a temp file and rename so a crash
// mid-write never leaves a torn state file.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/tracker"
)

// Store reads and writes tracker state at a fixed path.
type Store struct {
	path   string
	logger *zap.Logger
}

// New creates a store for the given path.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields empty state; a corrupted
// file is logged and also yields empty state rather than blocking the CLI.
func (s *Store) Load() (tracker.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return tracker.State{}, nil
	}
	if err != nil {
		return tracker.State{}, fmt.Errorf("read state file %s: %w", s.path, err)
	}

	var state tracker.State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Error("state file corrupted, starting empty",
			zap.String("path", s.path),
			zap.Error(err))
		return tracker.State{}, nil
	}
	return state, nil
}

// Save writes the state atomically: marshal, write to a temp file in the same
// directory, fsync, rename over the target.
func (s *Store) Save(state tracker.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".medtrack-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
