package fetcher

import (
	"fmt"

	"github.com/docsage/docsage/pkg/domain"
)

// Registry dispatches source specs to the fetcher handling their source type.
type Registry struct {
	fetchers map[domain.SourceType]domain.SourceFetcher
}

// NewRegistry builds an empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[domain.SourceType]domain.SourceFetcher)}
}

// Register binds a fetcher to one or more source types.
func (r *Registry) Register(f domain.SourceFetcher, types ...domain.SourceType) {
	for _, t := range types {
		r.fetchers[t] = f
	}
}

// For returns the fetcher for a source type.
func (r *Registry) For(t domain.SourceType) (domain.SourceFetcher, error) {
	f, ok := r.fetchers[t]
	if !ok {
		return nil, fmt.Errorf("%w: no fetcher for source type %q", domain.ErrMalformed, t)
	}
	return f, nil
}
