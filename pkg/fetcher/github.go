// Package fetcher enumerates and retrieves raw documents from the supported
// sources: Git trees, wikis, GitHub issues, and diagram summaries.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const defaultAPIBase = "https://api.github.com"

// GitHubClient is a thin REST client shared by the tree and issue fetchers.
// Remote failures are classified into the shared error taxonomy so the
// orchestrator's retry policy can match on them.
type GitHubClient struct {
	httpClient *http.Client
	base       string
	token      string
	log        zerolog.Logger
}

// GitHubConfig configures the REST client.
type GitHubConfig struct {
	Token   string
	APIBase string
	Timeout time.Duration
}

// NewGitHubClient creates a GitHub REST client.
func NewGitHubClient(cfg GitHubConfig, log zerolog.Logger) *GitHubClient {
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHubClient{
		httpClient: &http.Client{Timeout: timeout},
		base:       strings.TrimSuffix(base, "/"),
		token:      cfg.Token,
		log:        log.With().Str("component", "github-client").Logger(),
	}
}

// GetJSON issues a GET against the API and decodes the JSON response into out.
func (c *GitHubClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrTransient, path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("github request failed")
		return fmt.Errorf("GET %s: %w", path, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body for %s: %v", domain.ErrTransient, path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformed, path, err)
	}
	return nil
}

// classifyStatus maps GitHub response codes onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrAuthRequired
	case resp.StatusCode == http.StatusForbidden:
		// A 403 with an exhausted quota is a rate limit, not an auth problem.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return &domain.RateLimitError{RetryAfter: rateLimitDelay(resp)}
		}
		return domain.ErrAuthRequired
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: rateLimitDelay(resp)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func rateLimitDelay(resp *http.Response) time.Duration {
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
