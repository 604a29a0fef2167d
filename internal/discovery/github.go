package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type repositoryInfo struct {
	repository string
	url        string
	licence    string
}

type repositoryPayload struct {
	License *struct {
		SPDXID string `json:"spdx_id"`
		Name   string `json:"name"`
		Key    string `json:"key"`
	} `json:"license"`
}

// fetchRepository resolves repo metadata through the GitHub REST API.
// Returns nil when the repository cannot be identified or fetched.
func (c *Crawler) fetchRepository(ctx context.Context, repo string) *repositoryInfo {
	owner, name, ok := parseRepository(repo)
	if !ok {
		return nil
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s", c.apiBase, owner, name)
	raw, _, err := c.fetcher.FetchRaw(ctx, apiURL)
	if err != nil {
		c.logger.Debug("repository lookup failed",
			zap.String("repository", owner+"/"+name), zap.Error(err))
		return nil
	}
	var payload repositoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	licence := ""
	if payload.License != nil {
		switch {
		case payload.License.SPDXID != "":
			licence = payload.License.SPDXID
		case payload.License.Name != "":
			licence = payload.License.Name
		default:
			licence = payload.License.Key
		}
	}
	return &repositoryInfo{
		repository: owner + "/" + name,
		url:        fmt.Sprintf("https://github.com/%s/%s", owner, name),
		licence:    licence,
	}
}

// parseRepository accepts "owner/name" or a repository URL.
func parseRepository(repo string) (owner, name string, ok bool) {
	var parts []string
	if !strings.Contains(repo, "/") || strings.HasSuffix(repo, "/") {
		parsed, err := url.Parse(repo)
		if err != nil || parsed.Host == "" {
			return "", "", false
		}
		parts = strings.Split(strings.Trim(parsed.Path, "/"), "/")
	} else {
		parts = strings.Split(strings.Trim(repo, "/"), "/")
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
