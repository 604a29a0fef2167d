package policy

import (
	"fmt"
	"strings"
	"time"
)

// ConsentRecorder appends an approve/revoke action to the consent
// ledger. Implemented by internal/ledger.
type ConsentRecorder interface {
	Append(action, domain, scope string, policyVersion int, policyHash string) error
}

// Manager mutates the allowlist and records each mutation in the ledger.
type Manager struct {
	loader   *Loader
	recorder ConsentRecorder
	clock    func() time.Time
}

// NewManager builds a Manager around the loader and ledger recorder.
func NewManager(loader *Loader, recorder ConsentRecorder, clock func() time.Time) *Manager {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{loader: loader, recorder: recorder, clock: clock}
}

// Approve adds or replaces the allowlist rule for domain and records the
// approval. Zero budget values inherit the policy-level budgets.
func (m *Manager) Approve(domain, scope string, categories []string, bandwidthMB, timeBudgetMinutes float64) (DomainRule, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return DomainRule{}, fmt.Errorf("approve: empty domain")
	}
	if scope == "" {
		scope = ScopeWeb
	}
	if scope != ScopeWeb && scope != ScopeGit {
		return DomainRule{}, fmt.Errorf("approve: invalid scope %q", scope)
	}

	p, err := m.loader.Load()
	if err != nil {
		return DomainRule{}, err
	}
	if len(categories) == 0 {
		categories = append([]string(nil), p.Categories.Allowed...)
	}
	if bandwidthMB <= 0 {
		bandwidthMB = p.Network.BandwidthMB
	}
	if timeBudgetMinutes <= 0 {
		timeBudgetMinutes = p.Network.TimeBudgetMinutes
	}
	now := m.clock()
	rule := DomainRule{
		Domain:            domain,
		Categories:        categories,
		BandwidthMB:       bandwidthMB,
		TimeBudgetMinutes: timeBudgetMinutes,
		Scope:             scope,
		LastApproved:      &now,
	}

	kept := p.Network.Allowlist[:0]
	for _, existing := range p.Network.Allowlist {
		if !strings.EqualFold(existing.Domain, domain) {
			kept = append(kept, existing)
		}
	}
	p.Network.Allowlist = append(kept, rule)

	if err := m.saveAndRecord(p, "approve", domain, scope); err != nil {
		return DomainRule{}, err
	}
	return rule, nil
}

// Revoke removes the allowlist rule for domain (optionally scoped) and
// records the revocation as a new ledger entry. The approval entry is
// never rewritten.
func (m *Manager) Revoke(domain, scope string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	p, err := m.loader.Load()
	if err != nil {
		return err
	}
	before := len(p.Network.Allowlist)
	kept := p.Network.Allowlist[:0]
	for _, existing := range p.Network.Allowlist {
		if strings.EqualFold(existing.Domain, domain) && (scope == "" || existing.Scope == scope) {
			continue
		}
		kept = append(kept, existing)
	}
	p.Network.Allowlist = kept
	if len(p.Network.Allowlist) == before {
		return newError(fmt.Sprintf("no approval found for %s", domain), nil)
	}
	recordScope := scope
	if recordScope == "" {
		recordScope = "*"
	}
	return m.saveAndRecord(p, "revoke", domain, recordScope)
}

func (m *Manager) saveAndRecord(p *Policy, action, domain, scope string) error {
	if err := m.loader.Save(p); err != nil {
		return err
	}
	if m.recorder == nil {
		return nil
	}
	hash, err := m.loader.Hash()
	if err != nil {
		return err
	}
	if err := m.recorder.Append(action, domain, scope, p.Version, hash); err != nil {
		return fmt.Errorf("record %s for %s: %w", action, domain, err)
	}
	return nil
}
