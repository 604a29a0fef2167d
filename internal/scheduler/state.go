package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const maxLogEntries = 100

// LogEntry is one line in the persisted scheduler log ring.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// State is the persisted scheduler state. The queue is insertion
// ordered without duplicates; the log keeps the last hundred entries.
type State struct {
	Enabled        bool       `json:"enabled"`
	Online         bool       `json:"online"`
	Queue          []string   `json:"queue"`
	CurrentTopic   string     `json:"current_topic"`
	LastCheck      string     `json:"last_check"`
	LastReason     string     `json:"last_reason"`
	Logs           []LogEntry `json:"logs"`
	LastCPUPercent float64    `json:"last_cpu_percent"`
	LastRAMMB      float64    `json:"last_ram_mb"`
}

// Clone returns a deep copy safe to hand out to callers.
func (s *State) Clone() *State {
	copied := *s
	copied.Queue = append([]string(nil), s.Queue...)
	copied.Logs = append([]LogEntry(nil), s.Logs...)
	return &copied
}

// loadState reads the state file, creating a fresh one when it does
// not exist yet. Unknown fields from older or newer versions are
// ignored.
func loadState(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		state := &State{}
		if err := saveState(path, state); err != nil {
			return nil, err
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scheduler state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse scheduler state %s: %w", path, err)
	}
	return &state, nil
}

// saveState rewrites the whole state file after every mutation.
func saveState(path string, state *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scheduler state: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write scheduler state: %w", err)
	}
	return nil
}
