package paysaga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore provides a file-based implementation of Store that persists
// saga state as JSON files on disk.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a new file-based store that saves saga state
// to the specified directory.
func NewFileStore(basePath string) (*FileStore, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
	}, nil
}

// Save persists the saga state to a JSON file. The file is replaced
// atomically so a crash never leaves a torn checkpoint.
func (f *FileStore) Save(ctx context.Context, sagaID string, state *WorkflowState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	filename := f.filename(sagaID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load retrieves the saga state from a JSON file.
func (f *FileStore) Load(ctx context.Context, sagaID string) (*WorkflowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(sagaID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Delete removes the saga state file.
func (f *FileStore) Delete(ctx context.Context, sagaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(sagaID)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete state file: %w", err)
	}

	return nil
}

// List returns the IDs of all state files in the base directory.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// filename returns the full path for a saga's state file.
func (f *FileStore) filename(sagaID string) string {
	return filepath.Join(f.basePath, sagaID+".json")
}
