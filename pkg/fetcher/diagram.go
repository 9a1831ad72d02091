package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

// DiagramFetcher ingests per-image text summaries produced out of band by the
// diagram pipeline, read from a local directory.
type DiagramFetcher struct {
	log zerolog.Logger
}

// NewDiagramFetcher creates a diagram summary fetcher.
func NewDiagramFetcher(log zerolog.Logger) *DiagramFetcher {
	return &DiagramFetcher{log: log.With().Str("component", "diagram-fetcher").Logger()}
}

// List enumerates summary files (.txt, .md) under the spec's diagram
// directory in deterministic order.
func (f *DiagramFetcher) List(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	if spec.DiagramDir == "" {
		return nil, fmt.Errorf("%w: diagram_dir is required", domain.ErrMalformed)
	}
	entries, err := os.ReadDir(spec.DiagramDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: diagram dir %s", domain.ErrNotFound, spec.DiagramDir)
		}
		return nil, fmt.Errorf("read diagram dir: %w", err)
	}

	var refs []domain.DocumentRef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		path := filepath.Join(spec.DiagramDir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			f.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable diagram summary")
			continue
		}
		refs = append(refs, domain.DocumentRef{
			SourceType: domain.SourceDiagramSummary,
			Path:       path,
			SHA:        contentSHA(body),
			Size:       int64(len(body)),
			Repository: spec.Repository,
			Owner:      spec.Owner,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Fetch reads the summary file.
func (f *DiagramFetcher) Fetch(ctx context.Context, ref domain.DocumentRef) (*domain.Document, error) {
	body, err := os.ReadFile(ref.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref.Path)
		}
		return nil, fmt.Errorf("read diagram summary: %w", err)
	}
	return &domain.Document{
		SourceID:   ref.Path,
		SourceType: domain.SourceDiagramSummary,
		Path:       ref.Path,
		Raw:        body,
		SHA:        contentSHA(body),
		FetchedAt:  time.Now().UTC(),
		Repository: ref.Repository,
		Owner:      ref.Owner,
	}, nil
}
