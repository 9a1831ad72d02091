package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/docsage/docsage/pkg/domain"
)

// WikiConfig bounds the public-wiki crawl.
type WikiConfig struct {
	MaxDepth          int
	MaxPages          int
	LinkedConcurrency int
	Timeout           time.Duration
	Token             string
}

// WikiFetcher ingests wiki pages. Public wikis are crawled breadth-first over
// HTML; private wikis are cloned as Git repositories and their Markdown files
// listed. Page bytes seen during List are cached so Fetch does not re-download
// them, and so private clone contents survive clone removal.
type WikiFetcher struct {
	httpClient *http.Client
	cfg        WikiConfig
	log        zerolog.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

// NewWikiFetcher creates a wiki fetcher.
func NewWikiFetcher(cfg WikiConfig, log zerolog.Logger) *WikiFetcher {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.LinkedConcurrency <= 0 {
		cfg.LinkedConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WikiFetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		log:        log.With().Str("component", "wiki-fetcher").Logger(),
		cache:      make(map[string][]byte),
	}
}

func (f *WikiFetcher) List(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	if spec.Private {
		return f.listPrivate(ctx, spec)
	}
	return f.crawl(ctx, spec)
}

type crawlItem struct {
	url   string
	depth int
}

// crawl walks the public wiki breadth-first. A shared visited set keyed by
// canonical URL breaks cycles; back-references are a membership lookup, pages
// never reference each other.
func (f *WikiFetcher) crawl(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	root, err := url.Parse(spec.WikiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: wiki url %q: %v", domain.ErrMalformed, spec.WikiURL, err)
	}

	visited := map[string]bool{canonicalPageURL(root): true}
	queue := []crawlItem{{url: canonicalPageURL(root), depth: 0}}
	var refs []domain.DocumentRef
	var external []crawlItem

	for len(queue) > 0 && len(refs) < f.cfg.MaxPages {
		item := queue[0]
		queue = queue[1:]

		body, err := f.download(ctx, item.url)
		if err != nil {
			f.log.Warn().Err(err).Str("url", item.url).Msg("skipping unreachable wiki page")
			continue
		}
		refs = append(refs, f.pageRef(spec, item, body, domain.SourceWikiPage))

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
		if err != nil {
			f.log.Warn().Err(err).Str("url", item.url).Msg("wiki page not parseable, links skipped")
			continue
		}
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			link, err := root.Parse(href)
			if err != nil || (link.Scheme != "http" && link.Scheme != "https") {
				return
			}
			canonical := canonicalPageURL(link)
			if visited[canonical] {
				return
			}
			visited[canonical] = true
			next := crawlItem{url: canonical, depth: item.depth + 1}
			if sameWiki(root, link) {
				if next.depth <= f.cfg.MaxDepth {
					queue = append(queue, next)
				}
				return
			}
			external = append(external, next)
		})
	}

	linked, err := f.fetchLinked(ctx, spec, external)
	if err != nil {
		return nil, err
	}
	return append(refs, linked...), nil
}

// fetchLinked downloads outbound pages under a bounded fan-out. A MaxLinked
// of zero means no count limit.
func (f *WikiFetcher) fetchLinked(ctx context.Context, spec domain.SourceSpec, items []crawlItem) ([]domain.DocumentRef, error) {
	if spec.MaxLinked > 0 && len(items) > spec.MaxLinked {
		items = items[:spec.MaxLinked]
	}
	if len(items) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(int64(f.cfg.LinkedConcurrency))
	var mu sync.Mutex
	var refs []domain.DocumentRef
	var wg sync.WaitGroup

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(item crawlItem) {
			defer sem.Release(1)
			defer wg.Done()
			body, err := f.download(ctx, item.url)
			if err != nil {
				f.log.Debug().Err(err).Str("url", item.url).Msg("linked page unreachable, skipped")
				return
			}
			ref := f.pageRef(spec, item, body, domain.SourceLinkedPage)
			mu.Lock()
			refs = append(refs, ref)
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return refs, ctx.Err()
}

func (f *WikiFetcher) pageRef(spec domain.SourceSpec, item crawlItem, body []byte, sourceType domain.SourceType) domain.DocumentRef {
	f.mu.Lock()
	f.cache[item.url] = body
	f.mu.Unlock()

	return domain.DocumentRef{
		SourceType: sourceType,
		Path:       item.url,
		SHA:        contentSHA(body),
		Size:       int64(len(body)),
		URL:        item.url,
		Repository: spec.Repository,
		Owner:      spec.Owner,
		Depth:      item.depth,
		WikiName:   spec.Repository,
	}
}

// listPrivate clones the wiki repository with a token-bearing URL, lists its
// Markdown files, and removes the clone. File identity uses a content hash
// rather than the Git blob SHA.
func (f *WikiFetcher) listPrivate(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	tmpDir, err := os.MkdirTemp("", "docsage-wiki-*")
	if err != nil {
		return nil, fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cloneURL := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.wiki.git",
		f.cfg.Token, spec.Owner, spec.Repository)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, tmpDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		// The token never reaches logs; the command output may echo the URL.
		return nil, fmt.Errorf("%w: clone wiki %s/%s: %v",
			domain.ErrAuthRequired, spec.Owner, spec.Repository, redactToken(string(out), f.cfg.Token))
	}

	var refs []domain.DocumentRef
	err = filepath.WalkDir(tmpDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tmpDir, path)
		if err != nil {
			return err
		}
		pageName := strings.TrimSuffix(rel, filepath.Ext(rel))
		pageURL := fmt.Sprintf("https://github.com/%s/%s/wiki/%s", spec.Owner, spec.Repository, pageName)

		f.mu.Lock()
		f.cache[pageURL] = body
		f.mu.Unlock()

		refs = append(refs, domain.DocumentRef{
			SourceType: domain.SourceWikiPage,
			Path:       rel,
			SHA:        contentSHA(body),
			Size:       int64(len(body)),
			URL:        pageURL,
			Repository: spec.Repository,
			Owner:      spec.Owner,
			WikiName:   spec.Repository,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list wiki clone: %w", err)
	}
	return refs, nil
}

// Fetch serves page bytes cached during List, re-downloading public pages on
// a cache miss.
func (f *WikiFetcher) Fetch(ctx context.Context, ref domain.DocumentRef) (*domain.Document, error) {
	f.mu.Lock()
	body, ok := f.cache[ref.URL]
	f.mu.Unlock()

	if !ok {
		var err error
		body, err = f.download(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
	}

	return &domain.Document{
		SourceID:   ref.URL,
		SourceType: ref.SourceType,
		Path:       ref.Path,
		Raw:        body,
		SHA:        contentSHA(body),
		FetchedAt:  time.Now().UTC(),
		Repository: ref.Repository,
		Owner:      ref.Owner,
		URL:        ref.URL,
		Depth:      ref.Depth,
		WikiName:   ref.WikiName,
	}, nil
}

func (f *WikiFetcher) download(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, fmt.Errorf("GET %s: %w", pageURL, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransient, pageURL, err)
	}
	if len(body) > maxFileBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrTooLarge, pageURL, maxFileBytes)
	}
	return body, nil
}

// canonicalPageURL strips fragments and query strings so the visited set
// treats anchor variants as one page.
func canonicalPageURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawQuery = ""
	return strings.TrimSuffix(clone.String(), "/")
}

func sameWiki(root, link *url.URL) bool {
	return link.Host == root.Host && strings.HasPrefix(link.Path, rootPathPrefix(root))
}

func rootPathPrefix(root *url.URL) string {
	prefix := root.Path
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		prefix = prefix[:idx+1]
	}
	return prefix
}

func contentSHA(body []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(body))
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
