package cmd

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/answer"
	"github.com/docsage/docsage/pkg/chunker"
	"github.com/docsage/docsage/pkg/config"
	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/embedder"
	"github.com/docsage/docsage/pkg/extractor"
	"github.com/docsage/docsage/pkg/fetcher"
	"github.com/docsage/docsage/pkg/ingest"
	"github.com/docsage/docsage/pkg/llm"
	"github.com/docsage/docsage/pkg/memory"
	"github.com/docsage/docsage/pkg/registry"
	"github.com/docsage/docsage/pkg/retrieval"
	"github.com/docsage/docsage/pkg/store"
)

// app holds the wired component graph shared by serve, ingest, and ask.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	vectorStore *store.QdrantStore
	convStore   *store.ConversationStore
	embedder    *embedder.OpenAIEmbedder
	llm         *llm.OpenAIClient
	registry    *registry.Registry
	validator   *registry.Validator
	ingest      *ingest.Orchestrator
	answer      *answer.Orchestrator
}

func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	emb, err := embedder.New(embedder.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.EmbeddingModel,
		Dimension: cfg.OpenAI.Dimension,
		Timeout:   cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	chat, err := llm.New(llm.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.ChatModel,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	vectorStore, err := store.NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.OpenAI.Dimension, log)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	convStore, err := store.NewConversationStore(cfg.Store.ConversationDBPath)
	if err != nil {
		vectorStore.Close()
		return nil, fmt.Errorf("build conversation store: %w", err)
	}

	var reg *registry.Registry
	if cfg.Registry.CataloguePath != "" {
		reg, err = registry.Load(cfg.Registry.CataloguePath, cfg.Registry.Host)
		if err != nil {
			vectorStore.Close()
			convStore.Close()
			return nil, fmt.Errorf("load repository catalogue: %w", err)
		}
	} else {
		reg = registry.NewFromEntries(nil, cfg.Registry.Host)
	}
	validator := registry.NewValidator(reg, nil, registry.ValidatorConfig{
		ProbeTimeout:   cfg.Registry.ProbeTimeout,
		CacheTTL:       cfg.Registry.CacheTTL,
		TrustedDomains: cfg.Registry.TrustedDomains,
	}, log)

	github := fetcher.NewGitHubClient(fetcher.GitHubConfig{
		Token:   cfg.GitHub.Token,
		APIBase: cfg.GitHub.APIBase,
		Timeout: cfg.GitHub.Timeout,
	}, log)
	fetchers := fetcher.NewRegistry()
	fetchers.Register(fetcher.NewTreeFetcher(github, log),
		domain.SourceGitMarkdown, domain.SourceGitAPIDef)
	fetchers.Register(fetcher.NewWikiFetcher(fetcher.WikiConfig{
		MaxDepth:          cfg.Ingest.WikiMaxDepth,
		MaxPages:          cfg.Ingest.WikiMaxPages,
		LinkedConcurrency: cfg.Ingest.LinkedConcurrency,
		Timeout:           cfg.GitHub.Timeout,
		Token:             cfg.GitHub.Token,
	}, log), domain.SourceWikiPage, domain.SourceLinkedPage)
	fetchers.Register(fetcher.NewIssueFetcher(github, log), domain.SourceIssue)
	fetchers.Register(fetcher.NewDiagramFetcher(log), domain.SourceDiagramSummary)

	ingestor := ingest.New(fetchers, extractor.New(), chunker.New(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		Overlap:      cfg.Chunker.Overlap,
		MinChunkSize: cfg.Chunker.MinChunkSize,
	}), emb, vectorStore, ingest.SystemProbe{}, ingest.Config{
		EmbedBatchSize:    cfg.Ingest.EmbedBatchSize,
		MaxFileBytes:      cfg.Ingest.MaxFileBytes,
		MaxContentChars:   cfg.Ingest.MaxContentChars,
		MemoryHighPercent: cfg.Ingest.MemoryHighPercent,
		MemoryWarnPercent: cfg.Ingest.MemoryWarnPercent,
		MemoryHighWait:    cfg.Ingest.MemoryHighWait,
		MemoryWarnWait:    cfg.Ingest.MemoryWarnWait,
		FetchRetries:      cfg.Ingest.FetchRetries,
	}, log)

	mem := memory.New(convStore, chat, memory.Config{
		MaxMessages:          cfg.Memory.MaxMessages,
		MaxHistoryTokens:     cfg.Memory.MaxHistoryTokens,
		SummarizationEnabled: cfg.Memory.SummarizationEnabled,
		SummarizationRetries: cfg.Memory.SummarizationRetries,
	}, log)

	ret := retrieval.New(emb, vectorStore, retrieval.Config{
		TopK:               cfg.Retrieval.TopK,
		TopKRaw:            cfg.Retrieval.TopKRaw,
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		Blocklist:          cfg.Retrieval.Blocklist,
	}, log)

	return &app{
		cfg:         cfg,
		log:         log,
		vectorStore: vectorStore,
		convStore:   convStore,
		embedder:    emb,
		llm:         chat,
		registry:    reg,
		validator:   validator,
		ingest:      ingestor,
		answer:      answer.New(ret, mem, chat, validator, reg, log),
	}, nil
}

func (a *app) Close() {
	if err := a.convStore.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing conversation store")
	}
	if err := a.vectorStore.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing vector store")
	}
}
