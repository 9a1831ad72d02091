// Package retrieval turns a question into ranked context chunks and
// citations.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const snippetLen = 200

// Config tunes retrieval. TopKRaw candidates are pulled from the store so
// policy filtering still leaves enough to fill TopK slots.
type Config struct {
	TopK               int
	TopKRaw            int
	RelevanceThreshold float64
	Blocklist          []string
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{TopK: 3, TopKRaw: 10, RelevanceThreshold: 0.70}
}

// Result is the assembled retrieval outcome for one question.
type Result struct {
	Context   string
	Citations []domain.Citation
	Chunks    []domain.ScoredChunk
}

// Service retrieves context for questions.
type Service struct {
	embedder domain.Embedder
	store    domain.VectorStore
	cfg      Config
	log      zerolog.Logger
}

// New creates a retrieval service.
func New(embedder domain.Embedder, store domain.VectorStore, cfg Config, log zerolog.Logger) *Service {
	if cfg.TopKRaw < cfg.TopK {
		cfg.TopKRaw = cfg.TopK
	}
	return &Service{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		log:      log.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve embeds the question, queries the store, applies the repository
// blocklist and the relevance threshold, and assembles context and citations.
// A topK override of zero yields an empty result without querying the store;
// a negative override falls back to the configured TopK. A non-nil filter
// restricts candidates to chunks whose metadata matches every clause.
func (s *Service) Retrieve(ctx context.Context, question string, topK int, filter map[string]string) (*Result, error) {
	if topK == 0 {
		return &Result{}, nil
	}
	if topK < 0 {
		topK = s.cfg.TopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one question",
			domain.ErrTransient, len(vectors))
	}

	raw, err := s.store.Query(ctx, vectors[0], s.cfg.TopKRaw, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	filtered := s.applyBlocklist(raw)
	tiered := s.applyThreshold(filtered)
	if len(tiered) > topK {
		tiered = tiered[:topK]
	}

	s.log.Debug().
		Int("raw", len(raw)).
		Int("filtered", len(filtered)).
		Int("selected", len(tiered)).
		Msg("retrieval complete")
	return assemble(tiered), nil
}

// applyBlocklist drops chunks whose repository matches any blocklist entry by
// case-insensitive substring.
func (s *Service) applyBlocklist(chunks []domain.ScoredChunk) []domain.ScoredChunk {
	if len(s.cfg.Blocklist) == 0 {
		return chunks
	}
	kept := make([]domain.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if s.blocked(chunk.Repository()) {
			continue
		}
		kept = append(kept, chunk)
	}
	return kept
}

func (s *Service) blocked(repository string) bool {
	lower := strings.ToLower(repository)
	for _, entry := range s.cfg.Blocklist {
		if entry != "" && strings.Contains(lower, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

// applyThreshold keeps chunks at or above the relevance threshold. When none
// qualify, the filtered candidates pass through unchanged so weakly related
// corpora still produce an answer attempt.
func (s *Service) applyThreshold(chunks []domain.ScoredChunk) []domain.ScoredChunk {
	primary := make([]domain.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Score >= s.cfg.RelevanceThreshold {
			primary = append(primary, chunk)
		}
	}
	if len(primary) == 0 {
		return chunks
	}
	return primary
}

func assemble(chunks []domain.ScoredChunk) *Result {
	texts := make([]string, 0, len(chunks))
	citations := make([]domain.Citation, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Content)
		citations = append(citations, domain.Citation{
			Repository: chunk.Metadata["repository"],
			Path:       chunk.Metadata["path"],
			URL:        chunk.Metadata["url"],
			Score:      chunk.Score,
			Snippet:    snippet(chunk.Content),
		})
	}
	return &Result{
		Context:   strings.Join(texts, "\n"),
		Citations: citations,
		Chunks:    chunks,
	}
}

func snippet(text string) string {
	if len(text) <= snippetLen {
		return text
	}
	cut := text[:snippetLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > snippetLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
