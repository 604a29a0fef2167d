package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrNotFound signals a missing policy file.
var ErrNotFound = errors.New("policy file not found")

// Error wraps policy load/validation failures. The scheduler treats any
// policy Error as fatal for the current run and forces offline.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func newError(msg string, err error) *Error {
	return &Error{msg: msg, err: err}
}

// Loader reads and strictly validates policy.yaml. Unknown keys are a
// hard error so a misconfigured policy fails closed.
type Loader struct {
	path     string
	validate *validator.Validate
}

// NewLoader creates a Loader for the policy file at path.
func NewLoader(path string) *Loader {
	return &Loader{
		path:     path,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Path returns the policy file location.
func (l *Loader) Path() string { return l.path }

// Load reads, decodes and validates the policy. Never cached: callers
// invoke Load on every tick so edits apply immediately.
func (l *Loader) Load() (*Policy, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError("read policy", ErrNotFound)
		}
		return nil, newError("read policy", err)
	}
	return l.Parse(raw)
}

// Parse decodes and validates raw policy YAML.
func (l *Loader) Parse(raw []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, newError("decode policy", err)
	}
	if err := l.validate.Struct(&p); err != nil {
		return nil, newError("validate policy", err)
	}
	for _, w := range p.Network.Windows {
		if _, _, err := w.bounds(); err != nil {
			return nil, newError("validate policy window", err)
		}
	}
	return &p, nil
}

// Hash returns the hex SHA-256 of the policy file bytes, used to bind
// ledger entries to the policy revision they approved.
func (l *Loader) Hash() (string, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return "", newError("hash policy", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the policy back to disk.
func (l *Loader) Save(p *Policy) error {
	out, err := yaml.Marshal(p)
	if err != nil {
		return newError("encode policy", err)
	}
	if err := os.WriteFile(l.path, out, 0o600); err != nil {
		return newError("write policy", err)
	}
	return nil
}

// Default builds a conservative starter policy for `veilleur init`.
func Default(hostname string, now time.Time) *Policy {
	return &Policy{
		Version: 1,
		Subject: &Subject{Hostname: hostname, GeneratedAt: now},
		Defaults: Defaults{
			Offline:        true,
			RequireConsent: true,
			KillSwitch:     false,
		},
		Network: Network{
			Windows: []TimeWindow{
				{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Hours: "09:00-18:00"},
			},
			BandwidthMB:       200,
			TimeBudgetMinutes: 30,
		},
		Budgets: Budgets{CPUPercent: 50, RAMMB: 2048},
		Categories: Categories{
			Allowed: []string{"documentation", "articles"},
		},
	}
}
