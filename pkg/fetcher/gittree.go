package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const (
	maxFileBytes = 5 * 1024 * 1024

	// Bounds for the contents-API fallback when the tree listing is truncated.
	maxWalkDepth   = 10
	maxWalkFiles   = 500
	walkCallDelay  = 100 * time.Millisecond
	defaultTreeRef = "HEAD"
)

// Filenames containing any of these markers, with a YAML/JSON extension, are
// treated as API definitions.
var apiDefMarkers = []string{"openapi", "swagger", "api", "spec", "specification", "rest", "graphql", "grpc"}

// TreeFetcher lists and fetches Markdown and API-definition files from a Git
// repository through the GitHub API.
type TreeFetcher struct {
	client *GitHubClient
	log    zerolog.Logger
}

// NewTreeFetcher creates a Git tree fetcher.
func NewTreeFetcher(client *GitHubClient, log zerolog.Logger) *TreeFetcher {
	return &TreeFetcher{client: client, log: log.With().Str("component", "tree-fetcher").Logger()}
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// List enumerates files matching the spec's source type. When the recursive
// tree listing is truncated it falls back to bounded directory walks.
func (f *TreeFetcher) List(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	ref := spec.Ref
	if ref == "" {
		ref = defaultTreeRef
	}

	var resp treeResponse
	err := f.client.GetJSON(ctx,
		fmt.Sprintf("/repos/%s/%s/git/trees/%s", spec.Owner, spec.Repository, ref),
		url.Values{"recursive": {"1"}}, &resp)
	if err != nil {
		return nil, err
	}

	entries := resp.Tree
	if resp.Truncated {
		f.log.Warn().
			Str("repository", spec.Repository).
			Msg("tree listing truncated, falling back to directory walk")
		entries, err = f.walkContents(ctx, spec, ref)
		if err != nil {
			return nil, err
		}
	}

	var refs []domain.DocumentRef
	for _, entry := range entries {
		if entry.Type != "blob" && entry.Type != "file" {
			continue
		}
		if !matchesSourceType(spec.SourceType, entry.Path) {
			continue
		}
		if entry.Size > maxFileBytes {
			f.log.Debug().Str("path", entry.Path).Int64("size", entry.Size).Msg("skipping oversized file")
			continue
		}
		refs = append(refs, domain.DocumentRef{
			SourceType: spec.SourceType,
			Path:       entry.Path,
			SHA:        entry.SHA,
			Size:       entry.Size,
			URL:        fileURL(spec, ref, entry.Path),
			Repository: spec.Repository,
			Owner:      spec.Owner,
		})
	}
	return refs, nil
}

type contentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// walkContents recursively lists directories through the contents API, bounded
// in depth and file count, pacing remote calls.
func (f *TreeFetcher) walkContents(ctx context.Context, spec domain.SourceSpec, ref string) ([]treeEntry, error) {
	var entries []treeEntry
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxWalkDepth || len(entries) >= maxWalkFiles {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(walkCallDelay):
		}

		var listing []contentEntry
		err := f.client.GetJSON(ctx,
			fmt.Sprintf("/repos/%s/%s/contents/%s", spec.Owner, spec.Repository, dir),
			url.Values{"ref": {ref}}, &listing)
		if err != nil {
			return err
		}
		for _, item := range listing {
			if len(entries) >= maxWalkFiles {
				return nil
			}
			switch item.Type {
			case "dir":
				if err := walk(item.Path, depth+1); err != nil {
					return err
				}
			case "file":
				entries = append(entries, treeEntry{Path: item.Path, Type: "file", SHA: item.SHA, Size: item.Size})
			}
		}
		return nil
	}
	if err := walk("", 0); err != nil {
		return nil, err
	}
	return entries, nil
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
}

// Fetch retrieves the blob pinned by the ref's SHA, so the bytes always match
// the SHA recorded at listing time.
func (f *TreeFetcher) Fetch(ctx context.Context, ref domain.DocumentRef) (*domain.Document, error) {
	var blob blobResponse
	err := f.client.GetJSON(ctx,
		fmt.Sprintf("/repos/%s/%s/git/blobs/%s", ref.Owner, ref.Repository, ref.SHA), nil, &blob)
	if err != nil {
		return nil, err
	}
	if blob.Encoding != "base64" {
		return nil, fmt.Errorf("%w: blob %s has encoding %q", domain.ErrMalformed, ref.SHA, blob.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: decode blob %s: %v", domain.ErrMalformed, ref.SHA, err)
	}
	if int64(len(raw)) > maxFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, ref.Path, len(raw))
	}

	return &domain.Document{
		SourceID:   TreeSourceID(ref.Owner, ref.Repository, ref.Path),
		SourceType: ref.SourceType,
		Path:       ref.Path,
		Raw:        raw,
		SHA:        ref.SHA,
		FetchedAt:  time.Now().UTC(),
		Repository: ref.Repository,
		Owner:      ref.Owner,
		URL:        ref.URL,
	}, nil
}

// TreeSourceID is the stable identity of a repository file across ingests.
func TreeSourceID(owner, repo, filePath string) string {
	return fmt.Sprintf("%s/%s/%s", owner, repo, filePath)
}

func matchesSourceType(sourceType domain.SourceType, filePath string) bool {
	switch sourceType {
	case domain.SourceGitMarkdown:
		return strings.HasSuffix(strings.ToLower(filePath), ".md")
	case domain.SourceGitAPIDef:
		return isAPIDefPath(filePath)
	default:
		return false
	}
}

func isAPIDefPath(filePath string) bool {
	lower := strings.ToLower(filePath)
	switch path.Ext(lower) {
	case ".yaml", ".yml", ".json":
	default:
		return false
	}
	for _, marker := range apiDefMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func fileURL(spec domain.SourceSpec, ref, filePath string) string {
	branch := ref
	if branch == defaultTreeRef {
		branch = "main"
	}
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", spec.Owner, spec.Repository, branch, filePath)
}
