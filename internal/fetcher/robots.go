package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/metrics"
)

// robotsCache resolves and caches per-host robots policies. A failed or
// empty robots fetch is treated as "no exclusions".
type robotsCache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	cache     sync.Map // host -> *robotstxt.RobotsData (nil entry = allow all)
}

func newRobotsCache(userAgent string, timeout time.Duration, logger *zap.Logger) *robotsCache {
	return &robotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether rawURL may be fetched for the cached robots
// policy of its host.
func (r *robotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data := r.load(ctx, parsed)
	if data == nil {
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	allowed := group.Test(parsed.Path)
	if !allowed {
		metrics.ObserveRobotsDenied()
	}
	return allowed
}

func (r *robotsCache) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		data, _ := cached.(*robotstxt.RobotsData)
		return data
	}
	data := r.fetch(ctx, parsed)
	r.cache.Store(hostKey, data)
	return data
}

func (r *robotsCache) fetch(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.logger.Debug("robots parse failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return nil
	}
	return data
}
