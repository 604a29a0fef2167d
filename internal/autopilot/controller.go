// Package autopilot chains discovery, consent checks, fetching,
// verification and ingestion into one supervised run.
package autopilot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/consent"
	"github.com/veilleur-project/veilleur/internal/discovery"
	"github.com/veilleur-project/veilleur/internal/ingest"
	"github.com/veilleur-project/veilleur/internal/ledger"
	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/scheduler"
	"github.com/veilleur-project/veilleur/internal/verify"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Terminal run reasons not produced by the scheduler.
const (
	ReasonKillSwitch     = "kill-switch"
	ReasonEmptyAllowlist = "allowlist vide"
	ReasonInvalidIngest  = "ingestion invalide"
	ReasonOverBudget     = "budgets dépassés"
)

// DiscoveryCrawler yields crawl candidates for topics and allowlist
// rules.
type DiscoveryCrawler interface {
	Discover(ctx context.Context, topics []string, rules []policy.DomainRule) []watcher.DiscoveryResult
}

// Options wires a Controller. Scheduler, Pipeline, Fetcher, Loader,
// Ledger and Clock are required.
type Options struct {
	Scheduler *scheduler.Scheduler
	Pipeline  *ingest.Pipeline
	Crawler   DiscoveryCrawler
	Fetcher   watcher.PageFetcher
	Loader    *policy.Loader
	Ledger    *ledger.Ledger
	Reporter  watcher.Reporter
	Clock     watcher.Clock
	Sleep     watcher.SleepFunc
	IDs       watcher.IDGenerator
	Throttle  time.Duration
	Logger    *zap.Logger
}

// Controller coordinates one acquisition run end to end.
type Controller struct {
	scheduler *scheduler.Scheduler
	pipeline  *ingest.Pipeline
	crawler   DiscoveryCrawler
	fetcher   watcher.PageFetcher
	loader    *policy.Loader
	ledger    *ledger.Ledger
	reporter  watcher.Reporter
	clock     watcher.Clock
	sleep     watcher.SleepFunc
	ids       watcher.IDGenerator
	throttle  time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	lastRequest map[string]time.Time
}

// New builds a Controller from opts.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	crawler := opts.Crawler
	if crawler == nil {
		if raw, ok := opts.Fetcher.(watcher.RawFetcher); ok {
			crawler = discovery.NewCrawler(raw, logger)
		}
	}
	throttle := opts.Throttle
	if throttle < 0 {
		throttle = 0
	}
	return &Controller{
		scheduler:   opts.Scheduler,
		pipeline:    opts.Pipeline,
		crawler:     crawler,
		fetcher:     opts.Fetcher,
		loader:      opts.Loader,
		ledger:      opts.Ledger,
		reporter:    opts.Reporter,
		clock:       opts.Clock,
		sleep:       sleep,
		ids:         opts.IDs,
		throttle:    throttle,
		logger:      logger,
		lastRequest: make(map[string]time.Time),
	}
}

// Run executes one acquisition cycle. Topics, when given, are queued
// first; otherwise the run consumes the existing queue.
func (c *Controller) Run(ctx context.Context, topics []string) (*watcher.RunResult, error) {
	runID := c.newRunID()
	now := c.clock.Now()

	var (
		state *scheduler.State
		err   error
	)
	if len(topics) > 0 {
		state, err = c.scheduler.Enable(topics)
	} else {
		state, err = c.scheduler.Evaluate()
	}
	if err != nil {
		return nil, err
	}
	if !state.Online {
		reason := state.LastReason
		if reason == "" {
			reason = "offline"
		}
		c.logger.Info("autopilot paused", zap.String("reason", reason))
		metrics.ObserveRun(reason)
		return &watcher.RunResult{RunID: runID, Reason: reason}, nil
	}

	pol, err := c.loader.Load()
	if err != nil {
		return nil, err
	}
	if pol.Defaults.KillSwitch {
		c.logger.Warn("kill-switch active, run aborted")
		metrics.ObserveRun(ReasonKillSwitch)
		return &watcher.RunResult{RunID: runID, Reason: ReasonKillSwitch}, nil
	}
	if len(pol.Network.Allowlist) == 0 {
		c.logger.Warn("no approved domains, nothing to do")
		metrics.ObserveRun(ReasonEmptyAllowlist)
		return &watcher.RunResult{RunID: runID, Reason: ReasonEmptyAllowlist}, nil
	}

	allowed := make(map[string]policy.DomainRule, len(pol.Network.Allowlist))
	for _, rule := range pol.Network.Allowlist {
		allowed[strings.ToLower(strings.TrimSpace(rule.Domain))] = rule
	}
	consented, err := c.ledger.Approvals()
	if err != nil {
		return nil, err
	}
	gate := consent.NewGate(allowed, consented, pol.Defaults.RequireConsent, c.logger)
	verifier := verify.NewMultiSourceVerifier(c.pipeline.MinSources())

	discoverTopics := topics
	if len(discoverTopics) == 0 {
		discoverTopics = state.Queue
	}
	discovered := c.crawler.Discover(ctx, discoverTopics, pol.Network.Allowlist)

	collected, skipped, budgetReason, err := c.collect(ctx, pol, allowed, gate, discovered, now)
	if err != nil {
		return nil, err
	}
	outcome := scheduler.ReasonOK
	if budgetReason != "" {
		outcome = budgetReason
	}

	verified := verifier.Filter(collected)
	if len(verified) == 0 {
		c.logger.Info("no corroborated content to ingest")
		metrics.ObserveRun(outcome)
		return &watcher.RunResult{
			RunID:   runID,
			Skipped: skipped,
			Blocked: gate.Blocked(),
			Reason:  budgetReason,
		}, nil
	}

	documents := make([]watcher.RawDocument, len(verified))
	for i, candidate := range verified {
		documents[i] = candidate.Doc
	}

	ingested, err := c.ingestTransactional(ctx, documents)
	if err != nil {
		var validationErr *ingest.ValidationError
		if errors.As(err, &validationErr) {
			c.logger.Error("ingestion aborted", zap.Error(validationErr))
			metrics.ObserveRun(ReasonInvalidIngest)
			return &watcher.RunResult{
				RunID:   runID,
				Skipped: skipped,
				Blocked: gate.Blocked(),
				Reason:  ReasonInvalidIngest,
			}, nil
		}
		return nil, err
	}

	c.report(ctx, documents, now)
	metrics.ObserveRun(outcome)
	return &watcher.RunResult{
		RunID:    runID,
		Ingested: ingested,
		Skipped:  skipped,
		Blocked:  gate.Blocked(),
		Reason:   budgetReason,
	}, nil
}

// collect walks discovery results through the gate, budgets, throttle
// and fetcher. Budget overruns end the whole collection phase and are
// reported back as the run reason.
func (c *Controller) collect(
	ctx context.Context,
	pol *policy.Policy,
	allowed map[string]policy.DomainRule,
	gate *consent.Gate,
	discovered []watcher.DiscoveryResult,
	start time.Time,
) ([]verify.Candidate, []string, string, error) {
	var (
		collected      []verify.Candidate
		skipped        []string
		reason         string
		totalBandwidth float64
	)
	perDomain := make(map[string]float64)
	bandwidthLimit := pol.Network.BandwidthMB

	for _, item := range discovered {
		if err := ctx.Err(); err != nil {
			return nil, nil, "", err
		}
		if !gate.Allow(item.URL) {
			continue
		}
		domain := watcher.DomainFromURL(item.URL)
		if domain == "" {
			skipped = append(skipped, item.URL)
			continue
		}
		rule, ok := allowed[domain]
		if !ok {
			// Single-use consent without an explicit rule inherits the
			// policy-level budgets.
			rule = policy.DomainRule{
				Domain:            domain,
				BandwidthMB:       pol.Network.BandwidthMB,
				TimeBudgetMinutes: pol.Network.TimeBudgetMinutes,
				AllowSubdomains:   true,
				Scope:             policy.ScopeWeb,
			}
		}
		if c.exceededTime(pol, rule, start) {
			c.logger.Warn("time budget exceeded", zap.String("domain", domain))
			reason = ReasonOverBudget
			break
		}
		if err := c.throttleDomain(ctx, domain); err != nil {
			return nil, nil, "", err
		}
		result, err := c.fetcher.Fetch(ctx, item.URL, true)
		if err != nil {
			return nil, nil, "", err
		}
		if result == nil || result.Content == "" {
			skipped = append(skipped, item.URL)
			continue
		}
		licence := result.Licence
		if licence == "" {
			licence = item.Licence
		}
		if licence == "" || !c.pipeline.AllowedLicence(licence) {
			skipped = append(skipped, item.URL)
			continue
		}
		text := strings.TrimSpace(result.Content)
		if text == "" {
			skipped = append(skipped, item.URL)
			continue
		}
		title := item.Title
		if title == "" {
			title = guessTitle(text)
		}
		sum := sha256.Sum256([]byte(text))
		collected = append(collected, verify.Candidate{
			Doc: watcher.RawDocument{
				URL:         item.URL,
				Title:       title,
				Text:        text,
				Licence:     licence,
				PublishedAt: item.PublishedAt,
			},
			Digest: hex.EncodeToString(sum[:]),
		})

		payloadMB := bytesToMB(len(result.Raw))
		totalBandwidth += payloadMB
		perDomain[domain] += payloadMB
		if totalBandwidth > bandwidthLimit {
			c.logger.Warn("global bandwidth budget exceeded",
				zap.Float64("limit_mb", bandwidthLimit))
			reason = ReasonOverBudget
			break
		}
		if perDomain[domain] > rule.BandwidthMB {
			c.logger.Warn("domain bandwidth budget exceeded",
				zap.String("domain", domain),
				zap.Float64("limit_mb", rule.BandwidthMB))
			reason = ReasonOverBudget
			break
		}
	}
	return collected, skipped, reason, nil
}

// ingestTransactional wraps the pipeline write in a store transaction.
// The deferred Close rolls back on error, panic or cancellation.
func (c *Controller) ingestTransactional(ctx context.Context, documents []watcher.RawDocument) (ingested int, err error) {
	tx, err := beginStoreTransaction(c.pipeline.Store())
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := tx.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	ingested, err = c.pipeline.Ingest(ctx, documents, nil)
	if err != nil {
		return 0, err
	}
	tx.Commit()
	return ingested, nil
}

func (c *Controller) report(ctx context.Context, documents []watcher.RawDocument, now time.Time) {
	if c.reporter == nil {
		return
	}
	revoked, err := c.ledger.RevocationsSince(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		c.logger.Warn("could not list recent revocations", zap.Error(err))
	}
	urls := make([]string, len(documents))
	for i, doc := range documents {
		urls[i] = doc.URL
	}
	if err := c.reporter.Record(ctx, urls, revoked, now); err != nil {
		c.logger.Warn("report update failed", zap.Error(err))
	}
}

// throttleDomain enforces the controller-level inter-request delay per
// domain, on top of the fetcher's own limiter.
func (c *Controller) throttleDomain(ctx context.Context, domain string) error {
	if c.throttle <= 0 {
		return nil
	}
	c.mu.Lock()
	last, seen := c.lastRequest[domain]
	c.mu.Unlock()
	if seen {
		if wait := c.throttle - time.Since(last); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.mu.Lock()
	c.lastRequest[domain] = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Controller) exceededTime(pol *policy.Policy, rule policy.DomainRule, start time.Time) bool {
	elapsed := c.clock.Now().Sub(start).Minutes()
	if elapsed > pol.Network.TimeBudgetMinutes {
		return true
	}
	return elapsed > rule.TimeBudgetMinutes
}

func (c *Controller) newRunID() string {
	if c.ids == nil {
		return ""
	}
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func guessTitle(text string) string {
	firstLine, _, _ := strings.Cut(text, "\n")
	runes := []rune(firstLine)
	if len(runes) > 120 {
		runes = runes[:120]
	}
	title := strings.TrimSpace(string(runes))
	if title == "" {
		return "Document"
	}
	return title
}

// bytesToMB converts a payload size to MiB rounded to four decimals,
// matching how budgets are declared in the policy.
func bytesToMB(size int) float64 {
	if size <= 0 {
		return 0
	}
	return math.Round(float64(size)/(1024*1024)*10000) / 10000
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
