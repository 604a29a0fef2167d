// Package discovery turns approved domains into crawl candidates using
// sitemaps, RSS/Atom feeds and the GitHub REST API.
package discovery

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Crawler combines sitemap, feed and repository discovery behind one
// entry point. All network traffic goes through the raw fetcher so the
// same throttle and cache apply.
type Crawler struct {
	fetcher watcher.RawFetcher
	apiBase string
	logger  *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithAPIBase overrides the GitHub API base URL, mainly for tests.
func WithAPIBase(base string) Option {
	return func(c *Crawler) {
		c.apiBase = strings.TrimRight(base, "/")
	}
}

// NewCrawler builds a Crawler on top of fetcher.
func NewCrawler(fetcher watcher.RawFetcher, logger *zap.Logger, opts ...Option) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		fetcher: fetcher,
		apiBase: "https://api.github.com",
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover walks every rule and yields candidates matching the topics.
// Results are de-duplicated by URL across the whole call.
func (c *Crawler) Discover(ctx context.Context, topics []string, rules []policy.DomainRule) []watcher.DiscoveryResult {
	seen := make(map[string]struct{})
	lowered := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic != "" {
			lowered = append(lowered, strings.ToLower(topic))
		}
	}

	var results []watcher.DiscoveryResult
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		for _, result := range c.discoverForRule(ctx, rule, lowered) {
			if _, dup := seen[result.URL]; dup {
				continue
			}
			seen[result.URL] = struct{}{}
			results = append(results, result)
		}
	}
	metrics.ObserveCandidates(len(results))
	return results
}

func (c *Crawler) discoverForRule(ctx context.Context, rule policy.DomainRule, topics []string) []watcher.DiscoveryResult {
	if strings.EqualFold(rule.Scope, "git") {
		return c.discoverGit(ctx, rule, topics)
	}
	return c.discoverWeb(ctx, rule, topics)
}

func (c *Crawler) discoverWeb(ctx context.Context, rule policy.DomainRule, topics []string) []watcher.DiscoveryResult {
	var results []watcher.DiscoveryResult

	for _, sitemapURL := range candidateSitemaps(rule.Domain) {
		raw, _, err := c.fetcher.FetchRaw(ctx, sitemapURL)
		if err != nil {
			continue
		}
		for _, pageURL := range parseSitemap(raw) {
			if !urlAllowed(rule, pageURL) || !matchesTopics(topics, pageURL) {
				continue
			}
			results = append(results, watcher.DiscoveryResult{URL: pageURL})
		}
	}

	for _, feedURL := range candidateFeeds(rule.Domain) {
		raw, _, err := c.fetcher.FetchRaw(ctx, feedURL)
		if err != nil {
			continue
		}
		for _, entry := range parseFeed(raw) {
			if !urlAllowed(rule, entry.url) {
				continue
			}
			if !matchesTopics(topics, entry.url, entry.title, entry.summary) {
				continue
			}
			results = append(results, watcher.DiscoveryResult{
				URL:         entry.url,
				Title:       entry.title,
				Summary:     entry.summary,
				PublishedAt: entry.publishedAt,
			})
		}
	}
	return results
}

func (c *Crawler) discoverGit(ctx context.Context, rule policy.DomainRule, topics []string) []watcher.DiscoveryResult {
	var results []watcher.DiscoveryResult
	for _, repo := range candidateRepositories(rule, topics) {
		info := c.fetchRepository(ctx, repo)
		if info == nil || info.url == "" {
			continue
		}
		if !urlAllowed(rule, info.url) {
			continue
		}
		if len(topics) > 0 && !matchesTopics(topics, info.repository) {
			continue
		}
		results = append(results, watcher.DiscoveryResult{
			URL:     info.url,
			Title:   info.repository,
			Summary: "Dépôt GitHub découvert via allowlist",
			Licence: info.licence,
		})
	}
	return results
}

func candidateSitemaps(domain string) []string {
	bases := candidateBases(domain)
	urls := make([]string, 0, len(bases)*2)
	for _, base := range bases {
		urls = append(urls, base+"/sitemap.xml")
	}
	for _, base := range bases {
		urls = append(urls, base+"/sitemap_index.xml")
	}
	return urls
}

func candidateFeeds(domain string) []string {
	bases := candidateBases(domain)
	suffixes := []string{"/feed", "/rss.xml", "/rss", "/atom.xml"}
	urls := make([]string, 0, len(bases)*len(suffixes))
	for _, base := range bases {
		for _, suffix := range suffixes {
			urls = append(urls, base+suffix)
		}
	}
	return urls
}

// candidateBases expands an allowlist domain into scheme-qualified base
// URLs, preferring https and adding a plain http fallback.
func candidateBases(domain string) []string {
	value := strings.TrimSpace(domain)
	scheme := "https"
	host := value
	if strings.Contains(value, "//") {
		parsed, err := url.Parse(value)
		if err != nil {
			return nil
		}
		if parsed.Scheme == "http" || parsed.Scheme == "https" {
			scheme = parsed.Scheme
		}
		host = parsed.Host
	}
	host = strings.Trim(host, "/")
	if host == "" {
		return nil
	}
	bases := []string{scheme + "://" + host}
	if scheme != "http" {
		bases = append(bases, "http://"+host)
	}
	return bases
}

func urlAllowed(rule policy.DomainRule, rawURL string) bool {
	host := watcher.DomainFromURL(rawURL)
	if host == "" {
		return false
	}
	domain := normalizeDomain(rule.Domain)
	if rule.AllowSubdomains {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
	return host == domain
}

func normalizeDomain(domain string) string {
	value := strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(value, "//") {
		if parsed, err := url.Parse(value); err == nil && parsed.Host != "" {
			value = parsed.Host
		}
	}
	return strings.Trim(value, "/")
}

// matchesTopics reports whether any topic appears in the concatenated
// values. No topics means everything matches.
func matchesTopics(topics []string, values ...string) bool {
	if len(topics) == 0 {
		return true
	}
	var sb strings.Builder
	for _, value := range values {
		if value == "" {
			continue
		}
		sb.WriteString(strings.ToLower(value))
		sb.WriteByte(' ')
	}
	haystack := sb.String()
	for _, topic := range topics {
		if strings.Contains(haystack, topic) {
			return true
		}
	}
	return false
}

// candidateRepositories collects owner/name candidates from the rule
// domain, its categories and the topics, preserving first-seen order.
func candidateRepositories(rule policy.DomainRule, topics []string) []string {
	var raw []string
	if strings.Contains(rule.Domain, "/") {
		raw = append(raw, rule.Domain)
	}
	for _, category := range rule.Categories {
		if strings.Contains(category, "/") {
			raw = append(raw, category)
		}
	}
	for _, topic := range topics {
		if strings.Contains(topic, "/") {
			raw = append(raw, topic)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	ordered := make([]string, 0, len(raw))
	for _, repo := range raw {
		normalized := strings.Trim(strings.TrimSpace(repo), "/")
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		ordered = append(ordered, normalized)
	}
	return ordered
}
