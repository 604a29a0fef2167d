// Package scheduler plans and toggles network access according to the
// acquisition policy: activation windows, resource budgets and the
// topic queue.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// ErrNoTopics is returned by Enable when no usable topic was supplied.
var ErrNoTopics = errors.New("aucun sujet fourni")

// Terminal reasons recorded in the state file, in decision priority
// order.
const (
	ReasonDisabled      = "désactivé"
	ReasonPolicyMissing = "policy introuvable"
	ReasonKillSwitch    = "kill-switch"
	ReasonOutsideWindow = "hors fenêtre réseau"
	ReasonOverBudget    = "budgets dépassés"
	ReasonEmptyQueue    = "file d'attente vide"
	ReasonOK            = "ok"
)

// Scheduler owns the persisted autopilot state. All mutations go
// through it and every mutation rewrites the state file.
type Scheduler struct {
	loader    *policy.Loader
	statePath string
	probe     watcher.ResourceProbe
	clock     watcher.Clock
	engine    watcher.Engine
	logger    *zap.Logger

	mu    sync.Mutex
	state *State
}

// New loads (or seeds) the state file and returns a ready Scheduler.
// engine may be nil.
func New(loader *policy.Loader, statePath string, probe watcher.ResourceProbe, clock watcher.Clock, engine watcher.Engine, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	state, err := loadState(statePath)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		loader:    loader,
		statePath: statePath,
		probe:     probe,
		clock:     clock,
		engine:    engine,
		logger:    logger,
		state:     state,
	}, nil
}

// CurrentState returns a copy of the persisted state.
func (s *Scheduler) CurrentState() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Enable queues the topics, marks the autopilot enabled and runs an
// evaluation. Topics may contain comma separated lists; duplicates are
// dropped while preserving insertion order.
func (s *Scheduler) Enable(topics []string) (*State, error) {
	normalized := normalizeTopics(topics)
	if len(normalized) == 0 {
		return nil, ErrNoTopics
	}

	s.mu.Lock()
	queued := make(map[string]struct{}, len(s.state.Queue))
	for _, topic := range s.state.Queue {
		queued[topic] = struct{}{}
	}
	for _, topic := range normalized {
		if _, dup := queued[topic]; dup {
			continue
		}
		queued[topic] = struct{}{}
		s.state.Queue = append(s.state.Queue, topic)
	}
	s.state.Enabled = true
	s.log("INFO", "Activation avec "+strings.Join(normalized, ", "))
	s.mu.Unlock()

	return s.Evaluate()
}

// Disable removes topics from the queue (all of them when none are
// given) and switches the autopilot off.
func (s *Scheduler) Disable(topics []string) (*State, error) {
	normalized := normalizeTopics(topics)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(normalized) > 0 {
		remove := make(map[string]struct{}, len(normalized))
		for _, topic := range normalized {
			remove[topic] = struct{}{}
		}
		var kept []string
		var removed []string
		for _, topic := range s.state.Queue {
			if _, drop := remove[topic]; drop {
				removed = append(removed, topic)
				continue
			}
			kept = append(kept, topic)
		}
		if len(removed) > 0 {
			sort.Strings(removed)
			s.log("INFO", "Sujets retirés: "+strings.Join(removed, ", "))
		}
		s.state.Queue = kept
	} else {
		if len(s.state.Queue) > 0 {
			s.log("INFO", "File d'attente vidée.")
		}
		s.state.Queue = nil
	}

	if s.state.Enabled {
		s.state.Enabled = false
		s.state.Online = false
		s.state.CurrentTopic = ""
		s.state.LastReason = ReasonDisabled
		s.log("INFO", "Autopilot désactivé.")
	}
	s.state.LastCheck = timestamp(s.clock.Now())
	if err := saveState(s.statePath, s.state); err != nil {
		return nil, err
	}
	s.setOffline(true)
	return s.state.Clone(), nil
}

// Evaluate recomputes the online flag from the policy, the activation
// windows, the resource budgets and the queue, in strict priority
// order. The engine is informed on every call.
func (s *Scheduler) Evaluate() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.state.LastCheck = timestamp(now)

	if !s.state.Enabled {
		s.state.Online = false
		s.state.CurrentTopic = ""
		s.state.LastReason = ReasonDisabled
		s.setOffline(true)
		if err := saveState(s.statePath, s.state); err != nil {
			return nil, err
		}
		return s.state.Clone(), nil
	}

	pol, err := s.loader.Load()
	if err != nil {
		s.log("ERROR", fmt.Sprintf("policy.yaml invalide: %v", err))
		s.state.Enabled = false
		s.state.Online = false
		s.state.CurrentTopic = ""
		s.state.LastReason = ReasonPolicyMissing
		if saveErr := saveState(s.statePath, s.state); saveErr != nil {
			return nil, saveErr
		}
		s.setOffline(true)
		return nil, fmt.Errorf("policy.yaml invalide: %w", err)
	}

	if pol.Defaults.KillSwitch {
		if s.state.Enabled {
			s.log("WARNING", "Kill-switch activé, autopilot suspendu.")
		}
		s.state.Enabled = false
		s.state.Online = false
		s.state.CurrentTopic = ""
		s.state.LastReason = ReasonKillSwitch
		if err := saveState(s.statePath, s.state); err != nil {
			return nil, err
		}
		s.setOffline(true)
		return s.state.Clone(), nil
	}

	if usage, err := s.probe.Snapshot(); err == nil {
		s.state.LastCPUPercent = usage.CPUPercent
		s.state.LastRAMMB = usage.RAMMB
	} else {
		s.logger.Warn("resource probe failed", zap.Error(err))
	}

	withinWindow := pol.WithinWindow(now)
	withinBudgets := s.state.LastCPUPercent <= pol.Budgets.CPUPercent &&
		s.state.LastRAMMB <= pol.Budgets.RAMMB

	if len(s.state.Queue) > 0 {
		s.state.CurrentTopic = s.state.Queue[0]
	} else {
		s.state.CurrentTopic = ""
	}

	var reason string
	switch {
	case !withinWindow:
		reason = ReasonOutsideWindow
	case !withinBudgets:
		reason = ReasonOverBudget
	case len(s.state.Queue) == 0:
		reason = ReasonEmptyQueue
	}

	if reason == "" {
		if !s.state.Online {
			s.log("INFO", "Autopilot en ligne, exécution autorisée.")
		}
		s.state.Online = true
		s.state.LastReason = ReasonOK
		s.setOffline(false)
	} else {
		if s.state.Online || s.state.LastReason != reason {
			level := "WARNING"
			if reason == ReasonEmptyQueue {
				level = "INFO"
			}
			s.log(level, fmt.Sprintf("Autopilot hors ligne (%s).", reason))
		}
		s.state.Online = false
		s.state.LastReason = reason
		if reason != ReasonEmptyQueue {
			s.state.CurrentTopic = ""
		}
		s.setOffline(true)
	}

	if err := saveState(s.statePath, s.state); err != nil {
		return nil, err
	}
	return s.state.Clone(), nil
}

func (s *Scheduler) setOffline(offline bool) {
	if s.engine != nil {
		s.engine.SetOffline(offline)
	}
}

// log appends to the persisted ring and mirrors the message to the
// process logger. Callers hold the mutex.
func (s *Scheduler) log(level, message string) {
	entry := LogEntry{
		Timestamp: timestamp(s.clock.Now()),
		Level:     level,
		Message:   message,
	}
	s.state.Logs = append(s.state.Logs, entry)
	if len(s.state.Logs) > maxLogEntries {
		s.state.Logs = s.state.Logs[len(s.state.Logs)-maxLogEntries:]
	}
	switch level {
	case "ERROR":
		s.logger.Error(message)
	case "WARNING":
		s.logger.Warn(message)
	default:
		s.logger.Info(message)
	}
}

// normalizeTopics flattens comma separated input into trimmed unique
// topics, preserving first-seen order.
func normalizeTopics(topics []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range topics {
		for _, segment := range strings.Split(raw, ",") {
			topic := strings.TrimSpace(segment)
			if topic == "" {
				continue
			}
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			out = append(out, topic)
		}
	}
	return out
}

func timestamp(value time.Time) string {
	return value.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05")
}
