package registry

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var urlTokenRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ValidatorConfig tunes URL validation.
type ValidatorConfig struct {
	ProbeTimeout   time.Duration
	CacheTTL       time.Duration
	TrustedDomains []string
}

// Validator canonicalizes repository URLs against the registry catalogue and
// probes unknown URLs for reachability with a TTL cache. Safe for concurrent
// use; the cache lock is held only around map access, never across probes.
type Validator struct {
	registry *Registry
	client   *http.Client
	cfg      ValidatorConfig
	trusted  map[string]struct{}
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]probeResult
}

type probeResult struct {
	reachable bool
	at        time.Time
}

// NewValidator creates a Validator. A nil client falls back to a default
// client bound by the probe timeout.
func NewValidator(reg *Registry, client *http.Client, cfg ValidatorConfig, log zerolog.Logger) *Validator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.ProbeTimeout}
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedDomains))
	for _, d := range cfg.TrustedDomains {
		trusted[strings.ToLower(d)] = struct{}{}
	}
	return &Validator{
		registry: reg,
		client:   client,
		cfg:      cfg,
		trusted:  trusted,
		log:      log.With().Str("component", "url-validator").Logger(),
		cache:    make(map[string]probeResult),
	}
}

// Canonicalize rewrites a URL that references a known component through a
// wrong owner or a mono-repo tree path into its canonical form. Unknown
// URLs pass through unchanged. Canonicalize(Canonicalize(u)) == Canonicalize(u).
func (v *Validator) Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if !strings.EqualFold(u.Host, v.registry.Host()) {
		return raw
	}

	segs := splitPath(u.Path)
	if len(segs) < 2 {
		return raw
	}

	// Mono-repo tree paths for components that live in their own repo:
	// /{owner}/{repo}/tree/{ref}/.../{component} collapses to the
	// component's canonical repository.
	for i, seg := range segs {
		if seg == "tree" && i >= 2 && len(segs) > i+1 {
			last := segs[len(segs)-1]
			if canonical := v.registry.CanonicalURL(last); canonical != "" {
				return canonical
			}
		}
	}

	// Wrong owner for a known component repo. A bare /{owner}/{repo} URL
	// collapses to the canonical root; deeper paths keep their tail and get
	// the owner segment corrected in place.
	if entry, ok := v.registry.Lookup(segs[1]); ok {
		if len(segs) == 2 {
			return v.registry.CanonicalURL(segs[1])
		}
		if !strings.EqualFold(segs[0], entry.Owner) || !strings.EqualFold(segs[1], entry.Repo) {
			segs[0], segs[1] = entry.Owner, entry.Repo
			u.Path = "/" + strings.Join(segs, "/")
			return u.String()
		}
	}

	return raw
}

// Reachable reports whether a URL answers a HEAD (or GET fallback) within
// the probe timeout. Trusted domains short-circuit to true. Results are
// cached per URL for the configured TTL.
func (v *Validator) Reachable(ctx context.Context, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if _, ok := v.trusted[strings.ToLower(u.Hostname())]; ok {
		return true
	}

	v.mu.Lock()
	if cached, ok := v.cache[raw]; ok && time.Since(cached.at) < v.cfg.CacheTTL {
		v.mu.Unlock()
		return cached.reachable
	}
	v.mu.Unlock()

	reachable := v.probe(ctx, raw)

	v.mu.Lock()
	v.cache[raw] = probeResult{reachable: reachable, at: time.Now()}
	v.mu.Unlock()
	return reachable
}

func (v *Validator) probe(ctx context.Context, raw string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.ProbeTimeout)
	defer cancel()

	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, raw, nil)
		if err != nil {
			return false
		}
		resp, err := v.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 400 {
			return true
		}
		// 405 on HEAD is worth a GET retry, anything else is final.
		if method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
			continue
		}
		return false
	}
	return false
}

// RewriteText canonicalizes every URL-like token in text and drops tokens
// whose canonical form is unreachable. Failures are silent: the answer just
// loses the bad link.
func (v *Validator) RewriteText(ctx context.Context, text string) string {
	return urlTokenRe.ReplaceAllStringFunc(text, func(token string) string {
		trimmed, suffix := trimTrailingPunct(token)
		canonical := v.Canonicalize(trimmed)
		if !v.Reachable(ctx, canonical) {
			v.log.Debug().Str("url", trimmed).Msg("dropping unreachable url from answer")
			return suffix
		}
		return canonical + suffix
	})
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// trimTrailingPunct peels sentence punctuation that the URL regex
// over-captured, returning the clean URL and the peeled suffix.
func trimTrailingPunct(token string) (string, string) {
	i := len(token)
	for i > 0 {
		switch token[i-1] {
		case '.', ',', ';', ':', '!', '?':
			i--
		default:
			return token[:i], token[i:]
		}
	}
	return token[:i], token[i:]
}
