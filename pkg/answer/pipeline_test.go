package answer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/pkg/chunker"
	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/extractor"
	"github.com/docsage/docsage/pkg/fetcher"
	"github.com/docsage/docsage/pkg/ingest"
	"github.com/docsage/docsage/pkg/memory"
	"github.com/docsage/docsage/pkg/registry"
	"github.com/docsage/docsage/pkg/retrieval"
	"github.com/docsage/docsage/pkg/store"
)

// readmeFetcher serves a single markdown file from memory.
type readmeFetcher struct {
	body string
}

func (f readmeFetcher) List(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	return []domain.DocumentRef{{
		SourceType: domain.SourceGitMarkdown,
		Path:       "README.md",
		SHA:        "sha-readme",
		Size:       int64(len(f.body)),
		URL:        "https://github.com/acme/platform-docs/blob/main/README.md",
		Repository: "platform-docs",
		Owner:      "acme",
	}}, nil
}

func (f readmeFetcher) Fetch(ctx context.Context, ref domain.DocumentRef) (*domain.Document, error) {
	return &domain.Document{
		SourceID:   fetcher.TreeSourceID(ref.Owner, ref.Repository, ref.Path),
		SourceType: ref.SourceType,
		Path:       ref.Path,
		Raw:        []byte(f.body),
		SHA:        ref.SHA,
		FetchedAt:  time.Now().UTC(),
		Repository: ref.Repository,
		Owner:      ref.Owner,
		URL:        ref.URL,
	}, nil
}

type steadyProbe struct{}

func (steadyProbe) UsedPercent() (float64, error) { return 40, nil }

// The full pipeline: ingest a README through the orchestrator, then ask a
// question answered from it, and check the citation points back at the file.
func TestIngestThenAskCitesIngestedFile(t *testing.T) {
	vs := store.NewMemoryStore(2)

	fetchers := fetcher.NewRegistry()
	fetchers.Register(readmeFetcher{
		body: "# Platform\n\nAll services deploy to region X by default.",
	}, domain.SourceGitMarkdown)

	ingestor := ingest.New(fetchers, extractor.New(), chunker.New(chunker.DefaultConfig()),
		fixedEmbedder{}, vs, steadyProbe{}, ingest.DefaultConfig(), zerolog.Nop())

	report, err := ingestor.Ingest(context.Background(), domain.SourceSpec{
		SourceType: domain.SourceGitMarkdown,
		Owner:      "acme",
		Repository: "platform-docs",
	})
	require.NoError(t, err)
	require.Equal(t, "completed", report.Status)
	require.Positive(t, report.VectorsUpserted)

	llm := &stubLLM{answer: "All services deploy to region X by default."}
	conv := store.NewMemoryConversationStore()
	mem := memory.New(conv, llm, memory.DefaultConfig(), zerolog.Nop())
	ret := retrieval.New(fixedEmbedder{}, vs, retrieval.DefaultConfig(), zerolog.Nop())
	reg := registry.NewFromEntries(map[string]registry.Entry{"platform-docs": {Owner: "acme"}}, "github.com")
	validator := registry.NewValidator(reg, nil, registry.ValidatorConfig{
		TrustedDomains: []string{"github.com"},
	}, zerolog.Nop())
	o := New(ret, mem, llm, validator, reg, zerolog.Nop())

	result, err := o.Ask(context.Background(), "", "which region do services deploy to?", -1)
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "region X")
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "README.md", result.Citations[0].Path)
	assert.Equal(t, "platform-docs", result.Citations[0].Repository)

	// The LLM saw the ingested content as context.
	require.NotEmpty(t, llm.prompts)
	last := llm.prompts[0][len(llm.prompts[0])-1]
	assert.Contains(t, last.Content, "region X")
}
