// Package fetcher implements the politeness-aware HTTP fetcher: robots
// exclusion, per-host throttling, conditional re-fetch with a response
// cache, charset decoding, content extraction and licence sniffing.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// ErrUnavailable signals that a fetch produced no usable payload and no
// cached value exists. Callers skip the candidate.
var ErrUnavailable = errors.New("fetch unavailable")

// Config controls fetcher behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Throttle  time.Duration
}

// Fetcher is the single politeness-aware HTTP engine shared by page
// fetches and the raw side door.
type Fetcher struct {
	cfg       Config
	base      *colly.Collector
	robots    *robotsCache
	throttle  *hostThrottle
	extractor Extractor
	logger    *zap.Logger

	mu       sync.Mutex
	cache    map[string]*cachedResponse
	urlHash  map[string]string
	hashURLs map[string]map[string]struct{}
}

type cachedResponse struct {
	url          string
	raw          []byte
	headers      http.Header
	etag         string
	lastModified string
	content      string
	contentHash  string
	licence      string
}

// New builds a Fetcher. A nil extractor falls back to tag stripping.
func New(cfg Config, extractor Extractor, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "veilleur-bot/0.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // robots handled by robotsCache with allow-on-failure semantics
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true
	c.UserAgent = cfg.UserAgent
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:       cfg,
		base:      c,
		robots:    newRobotsCache(cfg.UserAgent, cfg.Timeout, logger),
		throttle:  newHostThrottle(cfg.Throttle),
		extractor: extractor,
		logger:    logger,
		cache:     make(map[string]*cachedResponse),
		urlHash:   make(map[string]string),
		hashURLs:  make(map[string]map[string]struct{}),
	}
}

// Fetch retrieves url under politeness rules and returns the extracted
// document. On failure the last cached result is returned if any, else
// a nil result with nil error.
func (f *Fetcher) Fetch(ctx context.Context, url string, respectRobots bool) (*watcher.FetchResult, error) {
	resp, err := f.perform(ctx, url, respectRobots)
	if err != nil {
		return nil, err
	}
	host := watcher.DomainFromURL(url)
	if resp == nil {
		if cached := f.getCached(url); cached != nil {
			metrics.ObservePageFetched(host, "cached")
			return f.toResult(cached), nil
		}
		metrics.ObservePageFetched(host, "failed")
		return nil, nil
	}

	f.mu.Lock()
	if resp.content == "" {
		decoded := decodeBody(resp.raw, resp.headers)
		resp.content = f.extract(decoded)
		resp.contentHash = f.storeHashLocked(url, resp.content)
		resp.licence = DetectLicence(resp.headers, resp.content)
	}
	f.mu.Unlock()

	metrics.ObservePageFetched(host, "ok")
	metrics.ObserveBytesFetched(host, len(resp.raw))
	return f.toResult(resp), nil
}

// FetchRaw is the side door for structured payloads (sitemaps, feeds,
// JSON APIs): undecoded bytes plus headers, no robots gate, no
// extraction.
func (f *Fetcher) FetchRaw(ctx context.Context, url string) ([]byte, http.Header, error) {
	resp, err := f.perform(ctx, url, false)
	if err != nil {
		return nil, nil, err
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnavailable, url)
	}
	return resp.raw, resp.headers, nil
}

// perform runs one conditional GET. A nil response with nil error means
// the fetch was denied or failed; the caller decides on cache fallback.
func (f *Fetcher) perform(ctx context.Context, url string, respectRobots bool) (*cachedResponse, error) {
	if respectRobots && !f.robots.Allowed(ctx, url) {
		f.logger.Info("blocked by robots.txt", zap.String("url", url))
		return nil, nil
	}

	host := watcher.DomainFromURL(url)
	if err := f.throttle.Wait(ctx, host); err != nil {
		return nil, err
	}

	cached := f.getCached(url)

	var (
		status   int
		headers  http.Header
		body     []byte
		fetchErr error
	)
	collector := f.base.Clone()
	collector.OnRequest(func(r *colly.Request) {
		if cached != nil {
			if cached.etag != "" {
				r.Headers.Set("If-None-Match", cached.etag)
			}
			if cached.lastModified != "" {
				r.Headers.Set("If-Modified-Since", cached.lastModified)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		headers = r.Headers.Clone()
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url); err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotModified:
		if cached != nil {
			f.logger.Debug("not modified", zap.String("url", url))
			return cached, nil
		}
		return nil, nil
	case fetchErr != nil:
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Error(fetchErr))
		return nil, nil
	case status >= 400 || status == 0:
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Int("status", status))
		return nil, nil
	}

	resp := &cachedResponse{
		url:          url,
		raw:          body,
		headers:      headers,
		etag:         headers.Get("ETag"),
		lastModified: headers.Get("Last-Modified"),
	}
	f.mu.Lock()
	f.cache[url] = resp
	f.mu.Unlock()
	return resp, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			// Surfaced through the OnError hook; the caller falls
			// back to the cache.
			f.logger.Debug("visit error", zap.String("url", url), zap.Error(err))
		}
		return nil
	}
}

func (f *Fetcher) extract(decoded string) string {
	if f.extractor != nil {
		extracted, err := f.extractor.Extract(decoded)
		if err == nil && extracted != "" {
			return extracted
		}
		if err != nil {
			f.logger.Debug("extraction failed, stripping tags", zap.Error(err))
		}
	}
	return stripTags(decoded)
}

func (f *Fetcher) getCached(url string) *cachedResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[url]
}

func (f *Fetcher) toResult(resp *cachedResponse) *watcher.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &watcher.FetchResult{
		URL:          resp.url,
		Content:      resp.content,
		Raw:          append([]byte(nil), resp.raw...),
		ContentHash:  resp.contentHash,
		Licence:      resp.licence,
		Headers:      resp.headers,
		ETag:         resp.etag,
		LastModified: resp.lastModified,
		IsDuplicate:  f.duplicateLocked(resp.contentHash, resp.url),
	}
}

// storeHashLocked records the digest of the extracted text for url and
// returns it. Tracks digest -> urls so a second distinct URL mapping to
// the same digest is flagged as a duplicate.
func (f *Fetcher) storeHashLocked(url, content string) string {
	sum := sha256.Sum256([]byte(content))
	digest := hex.EncodeToString(sum[:])

	if previous, ok := f.urlHash[url]; ok && previous != digest {
		if urls, ok := f.hashURLs[previous]; ok {
			delete(urls, url)
			if len(urls) == 0 {
				delete(f.hashURLs, previous)
			}
		}
	}
	f.urlHash[url] = digest
	if f.hashURLs[digest] == nil {
		f.hashURLs[digest] = make(map[string]struct{})
	}
	f.hashURLs[digest][url] = struct{}{}
	return digest
}

func (f *Fetcher) duplicateLocked(digest, url string) bool {
	if digest == "" {
		return false
	}
	urls := f.hashURLs[digest]
	if len(urls) > 1 {
		return true
	}
	if len(urls) == 1 {
		_, self := urls[url]
		return !self
	}
	return false
}

// decodeBody decodes raw bytes using the charset advertised in
// Content-Type, defaulting to UTF-8 with replacement on error.
func decodeBody(raw []byte, headers http.Header) string {
	charset := "utf-8"
	if ct := headers.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			if cs, ok := params["charset"]; ok && cs != "" {
				charset = cs
			}
		}
	}
	enc, err := htmlindex.Get(strings.ToLower(charset))
	if err != nil || enc == nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
