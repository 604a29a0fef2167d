package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/veilleur-project/veilleur/internal/clock/manual"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/probe"
	"github.com/veilleur-project/veilleur/internal/scheduler"
)

const apiPolicyYAML = `version: 1
defaults:
  offline: false
  require_consent: true
  kill_switch: false
network:
  windows:
    - days: [mon, tue, wed, thu, fri]
      hours: "09:00-18:00"
  allowlist: []
  bandwidth_mb: 200
  time_budget_minutes: 30
budgets:
  cpu_percent: 50
  ram_mb: 2048
categories:
  allowed: []
models: {}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(apiPolicyYAML), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	clk := manual.New(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	sched, err := scheduler.New(policy.NewLoader(policyPath),
		filepath.Join(dir, "autopilot-state.json"), probe.Static{CPUPercent: 10, RAMMB: 512}, clk, nil, nil)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	return NewServer(sched, nil, nil)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header missing")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusReturnsSchedulerState(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		State struct {
			Enabled    bool   `json:"enabled"`
			Online     bool   `json:"online"`
			LastReason string `json:"last_reason"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.State.Enabled || body.State.Online {
		t.Fatalf("fresh scheduler must report disabled and offline, got %+v", body.State)
	}
}

func TestEnableQueuesTopics(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/enable", strings.NewReader(`{"topics":["go","rust"]}`))
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		State struct {
			Enabled bool     `json:"enabled"`
			Queue   []string `json:"queue"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.State.Enabled || len(body.State.Queue) != 2 {
		t.Fatalf("state = %+v, want enabled with 2 topics", body.State)
	}
}

func TestEnableWithoutTopicsIsBadRequest(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/enable", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnableRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/enable", strings.NewReader(`{"topics": [`))
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDisableWithEmptyBody(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	enable := httptest.NewRequest(http.MethodPost, "/v1/enable", strings.NewReader(`{"topics":["go"]}`))
	server.Handler().ServeHTTP(httptest.NewRecorder(), enable)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/disable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		State struct {
			Enabled bool     `json:"enabled"`
			Queue   []string `json:"queue"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.State.Enabled || len(body.State.Queue) != 0 {
		t.Fatalf("state = %+v, want disabled with an empty queue", body.State)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
