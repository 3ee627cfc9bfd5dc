package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RunState remembers the most recent run so follow-up commands can default to it.
type RunState struct {
	// LastRunID is the ID of the most recent run.
	LastRunID string `yaml:"last_run_id,omitempty"`
	// LastBatch is the batch file used for that run.
	LastBatch string `yaml:"last_batch,omitempty"`
	// UpdatedAt is when the state was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no run has been recorded.
func (s *RunState) IsEmpty() bool {
	return s.LastRunID == ""
}

// SetRun records a run.
func (s *RunState) SetRun(runID, batch string) {
	s.LastRunID = runID
	s.LastBatch = batch
	s.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the state.
func (s *RunState) String() string {
	if s.IsEmpty() {
		return "(no runs recorded)"
	}
	id := s.LastRunID
	if len(id) > 8 {
		id = id[:8]
	}
	if s.LastBatch == "" {
		return "run:" + id
	}
	return fmt.Sprintf("run:%s batch:%s", id, filepath.Base(s.LastBatch))
}

// StateStore loads and saves RunState as YAML.
type StateStore struct {
	path string
	mu   sync.RWMutex
}

// NewStateStore creates a state store.
// If path is empty, uses ~/.config/jumpshell/state.yaml.
func NewStateStore(path string) *StateStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "jumpshell", "state.yaml")
	}
	return &StateStore{path: path}
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the state from disk. A missing file yields an empty state.
func (s *StateStore) Load() (*RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &RunState{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, nil
}

// Save writes the state to disk.
func (s *StateStore) Save(state *RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
