// Package consent implements the per-run allow/deny gate combining the
// policy allowlist with ledger-derived single-use approvals.
package consent

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Gate decides whether a candidate URL may be fetched. Built fresh for
// every controller run; single-use approvals are consumed in place.
type Gate struct {
	mu             sync.Mutex
	allowed        map[string]policy.DomainRule
	consented      map[string]time.Time
	requireConsent bool
	blocked        map[string]struct{}
	logger         *zap.Logger
}

// NewGate builds a Gate. consented is consumed by the gate and must not
// be shared across runs.
func NewGate(allowed map[string]policy.DomainRule, consented map[string]time.Time, requireConsent bool, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if consented == nil {
		consented = make(map[string]time.Time)
	}
	return &Gate{
		allowed:        allowed,
		consented:      consented,
		requireConsent: requireConsent,
		blocked:        make(map[string]struct{}),
		logger:         logger,
	}
}

// Allow reports whether url may be fetched. Allowlisted domains pass
// repeatedly; single-use consent passes exactly once and is consumed.
func (g *Gate) Allow(url string) bool {
	domain := watcher.DomainFromURL(url)
	if domain == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.allowed[domain]; ok {
		return true
	}
	if !g.requireConsent {
		return false
	}
	if _, ok := g.consented[domain]; !ok {
		if _, seen := g.blocked[domain]; !seen {
			g.logger.Warn("domain suspended, consent missing", zap.String("domain", domain))
		}
		g.blocked[domain] = struct{}{}
		metrics.ObserveConsentDenied()
		return false
	}
	delete(g.consented, domain)
	g.logger.Info("single-use consent consumed", zap.String("domain", domain))
	return true
}

// Blocked returns the sorted domains denied for missing consent,
// cumulative over the gate's lifetime.
func (g *Gate) Blocked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.blocked))
	for domain := range g.blocked {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}
