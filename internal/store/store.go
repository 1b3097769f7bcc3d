// Package store persists cycle contexts as JSON files, one per cycle id.
//
// Directory structure:
//
//	~/.config/edrr/cycles/
//	├── {cycle-id}.json
//	└── ...
//
// Writes go through a temp file plus rename so a crash mid-write never
// leaves a truncated context on disk.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fyrsmithlabs/edrr/internal/coordinator"
)

// Errors for store operations.
var (
	ErrInvalidCycleID = errors.New("invalid cycle id: must be alphanumeric with hyphens/underscores")
)

// idPattern validates cycle ids used as filenames. UUIDs pass; anything with
// path separators or dots does not.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

const maxCycleIDLen = 128

// FileStore implements coordinator.ContextStore on the local filesystem.
type FileStore struct {
	mu       sync.RWMutex
	basePath string
}

// NewFileStore creates a store rooted at basePath, creating the directory
// with 0700 permissions if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".config", "edrr", "cycles")
	}
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", basePath, err)
	}
	return &FileStore{basePath: basePath}, nil
}

// LoadContext reads the persisted context for the cycle id. Returns
// coordinator.ErrContextNotFound when none was ever saved.
func (s *FileStore) LoadContext(_ context.Context, cycleID string) (coordinator.Context, error) {
	path, err := s.pathFor(cycleID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", coordinator.ErrContextNotFound, cycleID)
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	var cycleCtx coordinator.Context
	if err := json.Unmarshal(data, &cycleCtx); err != nil {
		return nil, fmt.Errorf("context file %s corrupted: %w", path, err)
	}
	return cycleCtx, nil
}

// SaveContext persists the context for the cycle id, replacing any previous
// version atomically.
func (s *FileStore) SaveContext(_ context.Context, cycleID string, cycleCtx coordinator.Context) error {
	path, err := s.pathFor(cycleID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cycleCtx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace context file: %w", err)
	}
	return nil
}

// Delete removes a persisted context. Deleting a missing id is not an error.
func (s *FileStore) Delete(cycleID string) error {
	path, err := s.pathFor(cycleID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete context file: %w", err)
	}
	return nil
}

// List returns the cycle ids with persisted contexts.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}

// pathFor validates the cycle id and returns its file path.
func (s *FileStore) pathFor(cycleID string) (string, error) {
	if cycleID == "" || len(cycleID) > maxCycleIDLen || !idPattern.MatchString(cycleID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCycleID, cycleID)
	}
	return filepath.Join(s.basePath, cycleID+".json"), nil
}
