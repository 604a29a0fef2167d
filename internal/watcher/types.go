// Package watcher defines core types shared across subsystems.
package watcher

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RawDocument is a fetched document ready for verification and ingestion.
// It is constructed per fetch and never persisted directly.
type RawDocument struct {
	URL         string
	Title       string
	Text        string
	Licence     string
	PublishedAt time.Time // zero when the source carries no date
}

// DiscoveryResult is a candidate URL produced by the discovery crawler.
type DiscoveryResult struct {
	URL         string
	Title       string
	Summary     string
	Licence     string
	PublishedAt time.Time
}

// FetchResult is the outcome of a politeness-aware page fetch.
type FetchResult struct {
	URL          string
	Content      string
	Raw          []byte
	ContentHash  string
	Licence      string
	Headers      http.Header
	ETag         string
	LastModified string
	IsDuplicate  bool
}

// RunResult summarizes one autopilot orchestration cycle.
type RunResult struct {
	RunID    string   `json:"run_id"`
	Ingested int      `json:"ingested"`
	Skipped  []string `json:"skipped,omitempty"`
	Blocked  []string `json:"blocked,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// ResourceUsage is a snapshot of host resource consumption.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMMB      float64 `json:"ram_mb"`
}

// DomainFromURL extracts the lowercase hostname of rawURL, or "" when the
// URL cannot be parsed or has no host.
func DomainFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
