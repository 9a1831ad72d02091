package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/docsage/docsage/pkg/domain"
)

// MemoryStore is an in-memory domain.VectorStore with cosine scoring. It
// backs tests and local development without a running Qdrant.
type MemoryStore struct {
	dim int

	mu      sync.RWMutex
	records map[string]domain.VectorRecord
}

// NewMemoryStore creates an empty in-memory store with a fixed dimension.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:     dim,
		records: make(map[string]domain.VectorRecord),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if len(rec.Vector) != s.dim {
			return fmt.Errorf("record %s has %d dims, store expects %d: %w",
				rec.ID, len(rec.Vector), s.dim, domain.ErrDimensionMismatch)
		}
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.ScoredChunk, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query vector has %d dims, store expects %d: %w",
			len(vector), s.dim, domain.ErrDimensionMismatch)
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.ScoredChunk
	for _, rec := range s.records {
		if !matches(rec.Metadata, filter) {
			continue
		}
		results = append(results, domain.ScoredChunk{
			ID:       rec.ID,
			Score:    cosine(vector, rec.Vector),
			Content:  rec.Content,
			Metadata: rec.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Delete(ctx context.Context, filter map[string]string) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty delete filter", domain.ErrInvalidFilter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if matches(rec.Metadata, filter) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) FileSHA(ctx context.Context, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Metadata["source_id"] == sourceID {
			return rec.Metadata["file_sha"], nil
		}
	}
	return "", nil
}

func (s *MemoryStore) Health(ctx context.Context) error { return nil }

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matches(metadata map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
