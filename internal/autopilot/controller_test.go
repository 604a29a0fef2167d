package autopilot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/veilleur-project/veilleur/internal/clock/manual"
	"github.com/veilleur-project/veilleur/internal/ingest"
	"github.com/veilleur-project/veilleur/internal/ledger"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/probe"
	"github.com/veilleur-project/veilleur/internal/report"
	"github.com/veilleur-project/veilleur/internal/scheduler"
	"github.com/veilleur-project/veilleur/internal/vectorstore"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

const controllerPolicyYAML = `version: 1
defaults:
  offline: false
  require_consent: true
  kill_switch: false
network:
  windows:
    - days: [mon, tue, wed, thu, fri]
      hours: "09:00-18:00"
  allowlist:
    - domain: a.example
      categories: [documentation]
      bandwidth_mb: 50
      time_budget_minutes: 10
      allow_subdomains: false
      scope: web
    - domain: b.example
      categories: [documentation]
      bandwidth_mb: 50
      time_budget_minutes: 10
      allow_subdomains: false
      scope: web
  bandwidth_mb: 200
  time_budget_minutes: 30
budgets:
  cpu_percent: 50
  ram_mb: 2048
categories:
  allowed: [documentation]
models: {}
`

// monday 10:00 falls inside the policy window.
var runStart = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

type stubCrawler struct {
	results []watcher.DiscoveryResult
	topics  []string
}

func (c *stubCrawler) Discover(_ context.Context, topics []string, _ []policy.DomainRule) []watcher.DiscoveryResult {
	c.topics = append([]string(nil), topics...)
	return c.results
}

type stubFetcher struct {
	results map[string]*watcher.FetchResult
	calls   []string
	clk     *manual.Clock
	advance time.Duration
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ bool) (*watcher.FetchResult, error) {
	f.calls = append(f.calls, url)
	if f.clk != nil && f.advance > 0 {
		f.clk.Advance(f.advance)
	}
	return f.results[url], nil
}

type stubIDs struct{}

func (stubIDs) NewID() (string, error) { return "run-test", nil }

type fixture struct {
	controller *Controller
	store      *vectorstore.Store
	reporter   *report.Reporter
	crawler    *stubCrawler
	fetcher    *stubFetcher
	clk        *manual.Clock
}

func newFixture(t *testing.T, policyYAML string, crawler *stubCrawler, fetcher *stubFetcher) *fixture {
	t.Helper()
	dir := t.TempDir()
	clk := manual.New(runStart)
	if fetcher.clk == nil {
		fetcher.clk = clk
	}

	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(policyYAML), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	loader := policy.NewLoader(policyPath)

	ledgerPath := filepath.Join(dir, "consent-ledger.jsonl")
	if err := ledger.Init(ledgerPath); err != nil {
		t.Fatalf("ledger init: %v", err)
	}
	led, err := ledger.Open(ledgerPath, clk.Now)
	if err != nil {
		t.Fatalf("ledger open: %v", err)
	}

	store, err := vectorstore.Open(filepath.Join(dir, "vector-store.json"), clk)
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	pipeline, err := ingest.NewPipeline(store, 500, 2, []string{"MIT"}, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	sched, err := scheduler.New(loader, filepath.Join(dir, "autopilot-state.json"),
		probe.Static{CPUPercent: 10, RAMMB: 512}, clk, nil, nil)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	reporter := report.New(filepath.Join(dir, "history.json"))
	controller := New(Options{
		Scheduler: sched,
		Pipeline:  pipeline,
		Crawler:   crawler,
		Fetcher:   fetcher,
		Loader:    loader,
		Ledger:    led,
		Reporter:  reporter,
		Clock:     clk,
		IDs:       stubIDs{},
	})
	return &fixture{
		controller: controller,
		store:      store,
		reporter:   reporter,
		crawler:    crawler,
		fetcher:    fetcher,
		clk:        clk,
	}
}

func corroboratedPair() (*stubCrawler, *stubFetcher) {
	text := "<p>Le même contenu publié sur deux sites.</p>"
	extracted := "Le même contenu publié sur deux sites."
	crawler := &stubCrawler{results: []watcher.DiscoveryResult{
		{URL: "https://a.example/doc", Title: "Doc A"},
		{URL: "https://b.example/doc", Title: "Doc B"},
	}}
	fetcher := &stubFetcher{results: map[string]*watcher.FetchResult{
		"https://a.example/doc": {URL: "https://a.example/doc", Content: extracted, Raw: []byte(text), Licence: "MIT"},
		"https://b.example/doc": {URL: "https://b.example/doc", Content: extracted, Raw: []byte(text), Licence: "MIT"},
	}}
	return crawler, fetcher
}

func TestRunIngestsCorroboratedContent(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	f := newFixture(t, controllerPolicyYAML, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.RunID != "run-test" {
		t.Fatalf("run_id = %q", result.RunID)
	}
	if result.Reason != "" {
		t.Fatalf("reason = %q, want successful run", result.Reason)
	}
	if result.Ingested != 1 {
		t.Fatalf("ingested = %d, want 1 corroborated chunk", result.Ingested)
	}
	if f.store.Len() != 1 {
		t.Fatalf("store holds %d docs, want 1", f.store.Len())
	}
	meta := f.store.Documents()[0].Meta
	if meta["score"] != 0.6 {
		t.Fatalf("score = %v, want floor confidence 0.6", meta["score"])
	}
	if len(f.crawler.topics) != 1 || f.crawler.topics[0] != "contenu" {
		t.Fatalf("crawler topics = %v", f.crawler.topics)
	}

	ingested, _, err := f.reporter.Window(runStart.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(ingested) != 2 {
		t.Fatalf("report lists %d ingested URLs, want both sources", len(ingested))
	}
}

func TestRunOfflinePassesThroughSchedulerReason(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	f := newFixture(t, controllerPolicyYAML, crawler, fetcher)

	// No topics and a disabled scheduler.
	result, err := f.controller.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Reason != scheduler.ReasonDisabled {
		t.Fatalf("reason = %q, want %q", result.Reason, scheduler.ReasonDisabled)
	}
	if len(f.fetcher.calls) != 0 {
		t.Fatalf("offline run must not fetch, got %v", f.fetcher.calls)
	}
}

func TestRunKillSwitchGoesOffline(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(controllerPolicyYAML, "kill_switch: false", "kill_switch: true", 1)
	crawler, fetcher := corroboratedPair()
	f := newFixture(t, yaml, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Reason != scheduler.ReasonKillSwitch {
		t.Fatalf("reason = %q, want %q", result.Reason, scheduler.ReasonKillSwitch)
	}
	if len(f.fetcher.calls) != 0 {
		t.Fatalf("kill-switch run must not fetch")
	}
}

func TestRunEmptyAllowlist(t *testing.T) {
	t.Parallel()

	yaml := `version: 1
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
	crawler, fetcher := corroboratedPair()
	f := newFixture(t, yaml, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Reason != ReasonEmptyAllowlist {
		t.Fatalf("reason = %q, want %q", result.Reason, ReasonEmptyAllowlist)
	}
}

func TestRunSkipsDisallowedLicence(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	fetcher.results["https://a.example/doc"].Licence = "Proprietary"
	f := newFixture(t, controllerPolicyYAML, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Ingested != 0 {
		t.Fatalf("ingested = %d, want 0 without corroboration", result.Ingested)
	}
	found := false
	for _, url := range result.Skipped {
		if url == "https://a.example/doc" {
			found = true
		}
	}
	if !found {
		t.Fatalf("licence-rejected URL missing from skipped: %v", result.Skipped)
	}
	if f.store.Len() != 0 {
		t.Fatalf("nothing may be stored without a second source")
	}
}

func TestRunStopsOnDomainBandwidthBudget(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	// 2 MiB payload against a 1 MiB domain budget.
	big := make([]byte, 2*1024*1024)
	fetcher.results["https://a.example/doc"].Raw = big

	// Tighten the per-domain budget below the payload size.
	yaml := strings.Replace(controllerPolicyYAML, "bandwidth_mb: 50", "bandwidth_mb: 1", 1)
	f := newFixture(t, yaml, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(f.fetcher.calls) != 1 {
		t.Fatalf("collection must stop after the budget overrun, calls = %v", f.fetcher.calls)
	}
	if result.Ingested != 0 {
		t.Fatalf("a single source must not be ingested")
	}
	if result.Reason != ReasonOverBudget {
		t.Fatalf("reason = %q, want %q", result.Reason, ReasonOverBudget)
	}
}

func TestRunIngestsThenReportsBudgetOverrun(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	// The second payload blows the 1 MiB global budget only after both
	// sources were collected, so ingestion still happens.
	fetcher.results["https://b.example/doc"].Raw = make([]byte, 2*1024*1024)
	yaml := strings.Replace(controllerPolicyYAML, "bandwidth_mb: 200", "bandwidth_mb: 1", 1)
	f := newFixture(t, yaml, crawler, fetcher)

	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Ingested != 1 {
		t.Fatalf("ingested = %d, want the corroborated pair persisted", result.Ingested)
	}
	if result.Reason != ReasonOverBudget {
		t.Fatalf("reason = %q, want %q on a run cut short by the budget", result.Reason, ReasonOverBudget)
	}
}

func TestRunStopsOnTimeBudget(t *testing.T) {
	t.Parallel()

	crawler, fetcher := corroboratedPair()
	fetcher.advance = 15 * time.Minute
	f := newFixture(t, controllerPolicyYAML, crawler, fetcher)

	// First fetch advances the clock past the 10 minute domain budget,
	// so the second discovery item is never fetched.
	result, err := f.controller.Run(context.Background(), []string{"contenu"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(f.fetcher.calls) != 1 {
		t.Fatalf("collection must stop once the time budget is spent, calls = %v", f.fetcher.calls)
	}
	if result.Ingested != 0 {
		t.Fatalf("ingested = %d, want 0", result.Ingested)
	}
	if result.Reason != ReasonOverBudget {
		t.Fatalf("reason = %q, want %q", result.Reason, ReasonOverBudget)
	}
}

func TestBytesToMB(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size int
		want float64
	}{
		{0, 0},
		{-5, 0},
		{1024 * 1024, 1},
		{512 * 1024, 0.5},
		{1, 0},
	}
	for _, tc := range cases {
		if got := bytesToMB(tc.size); got != tc.want {
			t.Fatalf("bytesToMB(%d) = %v, want %v", tc.size, got, tc.want)
		}
	}
}

func TestGuessTitle(t *testing.T) {
	t.Parallel()

	if got := guessTitle("Première ligne\ncorps du texte"); got != "Première ligne" {
		t.Fatalf("guessTitle() = %q", got)
	}
	if got := guessTitle("   "); got != "Document" {
		t.Fatalf("guessTitle(blank) = %q, want Document", got)
	}
}
