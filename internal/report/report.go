// Package report keeps a JSON history of ingested and revoked sources.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one history record.
type Entry struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Record types.
const (
	TypeIngested = "ingested"
	TypeRevoked  = "revoked"
)

// Reporter appends run outcomes to a history file.
type Reporter struct {
	path string
	mu   sync.Mutex
}

// New builds a Reporter writing to path.
func New(path string) *Reporter {
	return &Reporter{path: path}
}

// Record implements watcher.Reporter: one history entry per ingested
// URL and per revoked domain, all stamped with now.
func (r *Reporter) Record(ctx context.Context, ingested []string, revoked []string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := r.loadLocked()
	if err != nil {
		return err
	}
	stamp := now.UTC()
	for _, url := range ingested {
		history = append(history, Entry{Type: TypeIngested, Value: url, Timestamp: stamp})
	}
	for _, domain := range revoked {
		history = append(history, Entry{Type: TypeRevoked, Value: domain, Timestamp: stamp})
	}
	return r.saveLocked(history)
}

// Window returns the distinct ingested URLs and revoked domains
// recorded at or after since, sorted for stable output.
func (r *Reporter) Window(since time.Time) (ingested, revoked []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := r.loadLocked()
	if err != nil {
		return nil, nil, err
	}
	seenIngested := make(map[string]struct{})
	seenRevoked := make(map[string]struct{})
	for _, entry := range history {
		if entry.Timestamp.Before(since) {
			continue
		}
		switch entry.Type {
		case TypeIngested:
			seenIngested[entry.Value] = struct{}{}
		case TypeRevoked:
			seenRevoked[entry.Value] = struct{}{}
		}
	}
	for value := range seenIngested {
		ingested = append(ingested, value)
	}
	for value := range seenRevoked {
		revoked = append(revoked, value)
	}
	sort.Strings(ingested)
	sort.Strings(revoked)
	return ingested, revoked, nil
}

func (r *Reporter) loadLocked() ([]Entry, error) {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read report history: %w", err)
	}
	var history []Entry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, fmt.Errorf("parse report history %s: %w", r.path, err)
		}
	}
	return history, nil
}

func (r *Reporter) saveLocked(history []Entry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	payload, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report history: %w", err)
	}
	if err := os.WriteFile(r.path, payload, 0o644); err != nil {
		return fmt.Errorf("write report history: %w", err)
	}
	return nil
}
