package discovery

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/veilleur-project/veilleur/internal/policy"
)

// fakeRawFetcher serves canned payloads keyed by URL.
type fakeRawFetcher struct {
	payloads map[string][]byte
	requests []string
}

func (f *fakeRawFetcher) FetchRaw(_ context.Context, url string) ([]byte, http.Header, error) {
	f.requests = append(f.requests, url)
	payload, ok := f.payloads[url]
	if !ok {
		return nil, nil, fmt.Errorf("no payload for %s", url)
	}
	return payload, http.Header{}, nil
}

const sitemapXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.org/go-tutorial</loc></url>
  <url><loc>https://example.org/cooking</loc></url>
  <url><loc>https://elsewhere.net/go-news</loc></url>
</urlset>`

const rssXML = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <item>
      <title>Go generics explained</title>
      <link>https://example.org/feed/generics</link>
      <description>A deep dive</description>
      <pubDate>Mon, 24 Aug 2026 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Gardening notes</title>
      <link>https://example.org/feed/garden</link>
      <description>Completely unrelated</description>
    </item>
  </channel>
</rss>`

func TestDiscoverWebFiltersByRuleAndTopic(t *testing.T) {
	t.Parallel()

	fetcher := &fakeRawFetcher{payloads: map[string][]byte{
		"https://example.org/sitemap.xml": []byte(sitemapXML),
		"https://example.org/feed":        []byte(rssXML),
	}}
	crawler := NewCrawler(fetcher, nil)

	rules := []policy.DomainRule{{Domain: "example.org", Scope: policy.ScopeWeb}}
	results := crawler.Discover(context.Background(), []string{"go"}, rules)

	urls := make(map[string]bool, len(results))
	for _, result := range results {
		urls[result.URL] = true
	}
	if !urls["https://example.org/go-tutorial"] {
		t.Fatalf("sitemap candidate matching topic missing: %v", urls)
	}
	if urls["https://elsewhere.net/go-news"] {
		t.Fatalf("URL outside the rule domain must be dropped")
	}
	if urls["https://example.org/cooking"] {
		t.Fatalf("candidate not matching any topic must be dropped")
	}
	if !urls["https://example.org/feed/generics"] {
		t.Fatalf("feed candidate matching topic missing: %v", urls)
	}
	if urls["https://example.org/feed/garden"] {
		t.Fatalf("feed candidate without topic match must be dropped")
	}

	for _, result := range results {
		if result.URL == "https://example.org/feed/generics" {
			want := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
			if !result.PublishedAt.Equal(want) {
				t.Fatalf("published_at = %v, want %v", result.PublishedAt, want)
			}
		}
	}
}

func TestDiscoverEmptyTopicsMatchesEverything(t *testing.T) {
	t.Parallel()

	fetcher := &fakeRawFetcher{payloads: map[string][]byte{
		"https://example.org/sitemap.xml": []byte(sitemapXML),
	}}
	crawler := NewCrawler(fetcher, nil)
	rules := []policy.DomainRule{{Domain: "example.org", Scope: policy.ScopeWeb}}

	results := crawler.Discover(context.Background(), nil, rules)
	if len(results) != 2 {
		t.Fatalf("got %d results, want both example.org sitemap URLs", len(results))
	}
}

func TestDiscoverSubdomainsFollowRule(t *testing.T) {
	t.Parallel()

	sitemap := `<urlset>
  <url><loc>https://docs.example.org/page</loc></url>
</urlset>`
	fetcher := &fakeRawFetcher{payloads: map[string][]byte{
		"https://example.org/sitemap.xml": []byte(sitemap),
	}}
	crawler := NewCrawler(fetcher, nil)

	strict := crawler.Discover(context.Background(), nil,
		[]policy.DomainRule{{Domain: "example.org", Scope: policy.ScopeWeb}})
	if len(strict) != 0 {
		t.Fatalf("subdomain URL must be dropped without allow_subdomains, got %v", strict)
	}

	fetcher2 := &fakeRawFetcher{payloads: fetcher.payloads}
	crawler2 := NewCrawler(fetcher2, nil)
	wide := crawler2.Discover(context.Background(), nil,
		[]policy.DomainRule{{Domain: "example.org", Scope: policy.ScopeWeb, AllowSubdomains: true}})
	if len(wide) != 1 || wide[0].URL != "https://docs.example.org/page" {
		t.Fatalf("subdomain URL must pass with allow_subdomains, got %v", wide)
	}
}

func TestDiscoverDeduplicatesAcrossRules(t *testing.T) {
	t.Parallel()

	sitemap := `<urlset><url><loc>https://example.org/one</loc></url></urlset>`
	fetcher := &fakeRawFetcher{payloads: map[string][]byte{
		"https://example.org/sitemap.xml": []byte(sitemap),
	}}
	crawler := NewCrawler(fetcher, nil)
	rules := []policy.DomainRule{
		{Domain: "example.org", Scope: policy.ScopeWeb},
		{Domain: "example.org", Scope: policy.ScopeWeb, AllowSubdomains: true},
	}
	results := crawler.Discover(context.Background(), nil, rules)
	if len(results) != 1 {
		t.Fatalf("got %d results, want URL-level de-duplication across rules", len(results))
	}
}

func TestDiscoverGitRepository(t *testing.T) {
	t.Parallel()

	repoJSON := `{"full_name":"acme/widget","license":{"spdx_id":"Apache-2.0","name":"Apache License 2.0","key":"apache-2.0"}}`
	fetcher := &fakeRawFetcher{payloads: map[string][]byte{
		"https://api.test/repos/acme/widget": []byte(repoJSON),
	}}
	crawler := NewCrawler(fetcher, nil, WithAPIBase("https://api.test"))

	rules := []policy.DomainRule{{
		Domain:          "github.com",
		Categories:      []string{"acme/widget"},
		AllowSubdomains: false,
		Scope:           policy.ScopeGit,
	}}
	results := crawler.Discover(context.Background(), nil, rules)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 repository", len(results))
	}
	got := results[0]
	if got.URL != "https://github.com/acme/widget" {
		t.Fatalf("url = %q", got.URL)
	}
	if got.Title != "acme/widget" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.Licence != "Apache-2.0" {
		t.Fatalf("licence = %q, want spdx id preferred", got.Licence)
	}
}

func TestCandidateRepositoriesOrderAndDedup(t *testing.T) {
	t.Parallel()

	rule := policy.DomainRule{
		Domain:     "acme/widget",
		Categories: []string{"acme/widget", "acme/gadget", "plain-category"},
	}
	repos := candidateRepositories(rule, []string{"other/repo", "topic"})
	want := []string{"acme/widget", "acme/gadget", "other/repo"}
	if len(repos) != len(want) {
		t.Fatalf("repos = %v, want %v", repos, want)
	}
	for i := range want {
		if repos[i] != want[i] {
			t.Fatalf("repos[%d] = %q, want %q", i, repos[i], want[i])
		}
	}
}

func TestCandidateBases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		domain string
		want   []string
	}{
		{"example.org", []string{"https://example.org", "http://example.org"}},
		{"http://example.org", []string{"http://example.org"}},
		{"https://example.org/", []string{"https://example.org", "http://example.org"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := candidateBases(tc.domain)
		if len(got) != len(tc.want) {
			t.Fatalf("candidateBases(%q) = %v, want %v", tc.domain, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("candidateBases(%q)[%d] = %q, want %q", tc.domain, i, got[i], tc.want[i])
			}
		}
	}
}
