package config

import (
	"path/filepath"
	"testing"
)

func TestRunState_String(t *testing.T) {
	tests := []struct {
		name  string
		state RunState
		want  string
	}{
		{name: "empty", state: RunState{}, want: "(no runs recorded)"},
		{name: "run only", state: RunState{LastRunID: "0123456789abcdef"}, want: "run:01234567"},
		{name: "run and batch", state: RunState{LastRunID: "abc", LastBatch: "/tmp/core.yaml"}, want: "run:abc batch:core.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("RunState.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	store := NewStateStore(path)

	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if !state.IsEmpty() {
		t.Fatalf("expected empty state, got %+v", state)
	}

	state.SetRun("run-1", "batch.yaml")
	if err := store.Save(state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.LastRunID != "run-1" || loaded.LastBatch != "batch.yaml" {
		t.Errorf("unexpected state: %+v", loaded)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() twice should not fail: %v", err)
	}
}
