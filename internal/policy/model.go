// Package policy holds the typed, strictly-validated acquisition policy.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Scope values accepted on a DomainRule.
const (
	ScopeWeb = "web"
	ScopeGit = "git"
)

var dayCodes = map[string]struct{}{
	"mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {}, "sun": {},
}

// Policy is the immutable per-load representation of policy.yaml.
// It is reloaded on every scheduler tick and controller run so edits
// take effect immediately.
type Policy struct {
	Version    int        `yaml:"version" validate:"gte=1"`
	Subject    *Subject   `yaml:"subject,omitempty"`
	Defaults   Defaults   `yaml:"defaults"`
	Network    Network    `yaml:"network"`
	Budgets    Budgets    `yaml:"budgets"`
	Categories Categories `yaml:"categories"`
	Models     Models     `yaml:"models"`
}

// Subject identifies the install the policy was generated for.
type Subject struct {
	Hostname    string    `yaml:"hostname" validate:"required"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

// Defaults carries the global governance switches.
type Defaults struct {
	Offline        bool `yaml:"offline"`
	RequireConsent bool `yaml:"require_consent"`
	KillSwitch     bool `yaml:"kill_switch"`
}

// Network describes when and where acquisition may happen.
type Network struct {
	Windows           []TimeWindow `yaml:"windows" validate:"min=1,dive"`
	Allowlist         []DomainRule `yaml:"allowlist" validate:"dive"`
	BandwidthMB       float64      `yaml:"bandwidth_mb" validate:"gte=0"`
	TimeBudgetMinutes float64      `yaml:"time_budget_minutes" validate:"gte=0"`
}

// Budgets caps host resource usage.
type Budgets struct {
	CPUPercent float64 `yaml:"cpu_percent" validate:"gte=0,lte=100"`
	RAMMB      float64 `yaml:"ram_mb" validate:"gte=0"`
}

// Categories lists the content categories the subject accepted.
type Categories struct {
	Allowed []string `yaml:"allowed"`
}

// Models records metadata about the local model artifacts.
type Models struct {
	LLM       ModelEntry `yaml:"llm"`
	Embedding ModelEntry `yaml:"embedding"`
}

// ModelEntry pins one model artifact.
type ModelEntry struct {
	Name    string `yaml:"name"`
	SHA256  string `yaml:"sha256"`
	License string `yaml:"license"`
}

// DomainRule is one allowlist entry, keyed by exact domain string.
type DomainRule struct {
	Domain            string     `yaml:"domain" validate:"required"`
	Categories        []string   `yaml:"categories"`
	BandwidthMB       float64    `yaml:"bandwidth_mb" validate:"gte=0"`
	TimeBudgetMinutes float64    `yaml:"time_budget_minutes" validate:"gte=0"`
	AllowSubdomains   bool       `yaml:"allow_subdomains"`
	Scope             string     `yaml:"scope" validate:"oneof=web git"`
	LastApproved      *time.Time `yaml:"last_approved,omitempty"`
}

// Matches reports whether host is covered by the rule. Subdomain
// matching is explicit per rule, never global.
func (r DomainRule) Matches(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	domain := strings.ToLower(strings.TrimSpace(r.Domain))
	if host == "" || domain == "" {
		return false
	}
	if host == domain {
		return true
	}
	return r.AllowSubdomains && strings.HasSuffix(host, "."+domain)
}

// TimeWindow is a set of 3-letter weekday codes plus an "HH:MM-HH:MM"
// interval with start < end.
type TimeWindow struct {
	Days  []string `yaml:"days" validate:"min=1,dive,oneof=mon tue wed thu fri sat sun"`
	Hours string   `yaml:"hours" validate:"required"`
}

// Contains reports whether now falls inside the window.
func (w TimeWindow) Contains(now time.Time) bool {
	day := strings.ToLower(now.Format("Mon"))
	found := false
	for _, d := range w.Days {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	start, end, err := w.bounds()
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end
}

func (w TimeWindow) bounds() (int, int, error) {
	parts := strings.SplitN(w.Hours, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid hours interval %q", w.Hours)
	}
	start, err := parseMinutes(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseMinutes(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, fmt.Errorf("window %q must end after it starts", w.Hours)
	}
	return start, end, nil
}

// DurationMinutes returns the length of the window.
func (w TimeWindow) DurationMinutes() float64 {
	start, end, err := w.bounds()
	if err != nil {
		return 0
	}
	return float64(end - start)
}

func parseMinutes(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WithinWindow reports whether now falls inside any network window.
func (p *Policy) WithinWindow(now time.Time) bool {
	for _, w := range p.Network.Windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// Rule returns the allowlist rule for the exact domain, if any.
func (p *Policy) Rule(domain string) (DomainRule, bool) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, rule := range p.Network.Allowlist {
		if strings.ToLower(rule.Domain) == domain {
			return rule, true
		}
	}
	return DomainRule{}, false
}
