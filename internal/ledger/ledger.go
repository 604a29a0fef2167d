// Package ledger implements the append-only, HMAC-signed consent ledger.
//
// The file is line-oriented JSON: the first line is signing metadata
// carrying the secret, every later line is a signed approve/revoke
// record. Entries are never rewritten or deleted; a revocation is a new
// entry. The signed ledger is the single authoritative read path for
// consent history.
package ledger

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalid marks a malformed or unverifiable ledger. The ledger is
// advisory-read-only: callers must fail rather than guess at its content.
var ErrInvalid = errors.New("consent ledger invalid")

// Actions recorded in the ledger.
const (
	ActionApprove = "approve"
	ActionRevoke  = "revoke"
)

// Entry is one signed consent record.
type Entry struct {
	Action        string    `json:"action"`
	Domain        string    `json:"domain"`
	PolicyHash    string    `json:"policy_hash"`
	PolicyVersion int       `json:"policy_version"`
	Scope         string    `json:"scope"`
	Timestamp     time.Time `json:"timestamp"`
}

// signedEntry is the wire form. Field order matters: the signature is
// computed over the canonical JSON of the payload fields sorted by key,
// without the signature itself.
type signedEntry struct {
	Action        string `json:"action"`
	Domain        string `json:"domain"`
	PolicyHash    string `json:"policy_hash"`
	PolicyVersion int    `json:"policy_version"`
	Scope         string `json:"scope"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	Signature     string `json:"signature,omitempty"`
}

type metadataLine struct {
	Type      string `json:"type"`
	SecretHex string `json:"secret_hex"`
}

// Ledger provides append and verified read access to the ledger file.
type Ledger struct {
	path   string
	secret []byte
	clock  func() time.Time
}

// Init creates the ledger file with a fresh random signing secret. It is
// a no-op when the file already exists.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate ledger secret: %w", err)
	}
	meta, err := json.Marshal(metadataLine{Type: "metadata", SecretHex: hex.EncodeToString(secret)})
	if err != nil {
		return fmt.Errorf("encode ledger metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := os.WriteFile(path, append(meta, '\n'), 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Open reads the metadata line and returns a Ledger bound to its secret.
func Open(path string, clock func() time.Time) (*Ledger, error) {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: missing metadata line", ErrInvalid)
	}
	var meta metadataLine
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", ErrInvalid)
	}
	if meta.Type != "metadata" || meta.SecretHex == "" {
		return nil, fmt.Errorf("%w: metadata missing type or secret", ErrInvalid)
	}
	secret, err := hex.DecodeString(meta.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex", ErrInvalid)
	}
	return &Ledger{path: path, secret: secret, clock: clock}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append writes a signed record. Implements policy.ConsentRecorder.
func (l *Ledger) Append(action, domain, scope string, policyVersion int, policyHash string) error {
	entry := signedEntry{
		Action:        action,
		Domain:        domain,
		PolicyHash:    policyHash,
		PolicyVersion: policyVersion,
		Scope:         scope,
		Timestamp:     l.clock().UTC().Format(time.RFC3339),
		Type:          "entry",
	}
	entry.Signature = l.sign(entry)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Entries returns all records in ledger order, verifying every
// signature under the metadata secret.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: missing metadata line", ErrInvalid)
	}

	var entries []Entry
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry signedEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("%w: line %d is not valid JSON", ErrInvalid, lineNo)
		}
		sig := entry.Signature
		entry.Signature = ""
		if !hmac.Equal([]byte(sig), []byte(l.sign(entry))) {
			return nil, fmt.Errorf("%w: line %d signature mismatch", ErrInvalid, lineNo)
		}
		ts, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d has invalid timestamp", ErrInvalid, lineNo)
		}
		entries = append(entries, Entry{
			Action:        entry.Action,
			Domain:        entry.Domain,
			PolicyHash:    entry.PolicyHash,
			PolicyVersion: entry.PolicyVersion,
			Scope:         entry.Scope,
			Timestamp:     ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return entries, nil
}

// Approvals folds the ledger into net single-use approvals: approve
// adds, revoke removes, last write wins by ledger order.
func (l *Ledger) Approvals() (map[string]time.Time, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	approvals := make(map[string]time.Time)
	for _, entry := range entries {
		switch entry.Action {
		case ActionApprove:
			approvals[entry.Domain] = entry.Timestamp
		case ActionRevoke:
			delete(approvals, entry.Domain)
		}
	}
	return approvals, nil
}

// RevocationsSince lists domains revoked at or after since.
func (l *Ledger) RevocationsSince(since time.Time) ([]string, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var revoked []string
	for _, entry := range entries {
		if entry.Action != ActionRevoke {
			continue
		}
		if entry.Timestamp.Before(since) {
			continue
		}
		revoked = append(revoked, entry.Domain)
	}
	return revoked, nil
}

func (l *Ledger) sign(entry signedEntry) string {
	entry.Signature = ""
	message, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	mac := hmac.New(sha256.New, l.secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
