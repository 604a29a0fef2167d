package consent

import (
	"testing"
	"time"

	"github.com/veilleur-project/veilleur/internal/policy"
)

func TestGateAllowlistedDomainPassesRepeatedly(t *testing.T) {
	t.Parallel()

	gate := NewGate(map[string]policy.DomainRule{
		"example.org": {Domain: "example.org", Scope: policy.ScopeWeb},
	}, nil, true, nil)

	for i := 0; i < 3; i++ {
		if !gate.Allow("https://example.org/page") {
			t.Fatalf("allowlisted domain denied on attempt %d", i+1)
		}
	}
	if len(gate.Blocked()) != 0 {
		t.Fatalf("allowlisted fetches must not be recorded as blocked")
	}
}

func TestGateSingleUseConsentConsumedOnce(t *testing.T) {
	t.Parallel()

	consented := map[string]time.Time{
		"once.example": time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
	}
	gate := NewGate(nil, consented, true, nil)

	if !gate.Allow("https://once.example/a") {
		t.Fatalf("first use of single-use consent must pass")
	}
	if gate.Allow("https://once.example/b") {
		t.Fatalf("second use must be denied, consent is single-use")
	}
	blocked := gate.Blocked()
	if len(blocked) != 1 || blocked[0] != "once.example" {
		t.Fatalf("blocked = %v, want [once.example]", blocked)
	}
}

func TestGateWithoutConsentRequirementDeniesUnknown(t *testing.T) {
	t.Parallel()

	consented := map[string]time.Time{"known.example": time.Now()}
	gate := NewGate(nil, consented, false, nil)

	if gate.Allow("https://known.example/") {
		t.Fatalf("consent path must be closed when require_consent is off")
	}
}

func TestGateRejectsUnparseableURL(t *testing.T) {
	t.Parallel()

	gate := NewGate(nil, nil, true, nil)
	if gate.Allow("::not a url::") {
		t.Fatalf("URL without hostname must be denied")
	}
}

func TestGateBlockedIsSortedAndCumulative(t *testing.T) {
	t.Parallel()

	gate := NewGate(nil, nil, true, nil)
	for _, url := range []string{"https://zeta.example/", "https://alpha.example/", "https://zeta.example/x"} {
		if gate.Allow(url) {
			t.Fatalf("unconsented %s must be denied", url)
		}
	}
	blocked := gate.Blocked()
	if len(blocked) != 2 || blocked[0] != "alpha.example" || blocked[1] != "zeta.example" {
		t.Fatalf("blocked = %v, want sorted [alpha.example zeta.example]", blocked)
	}
}
