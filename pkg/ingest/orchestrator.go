// Package ingest drives the fetch, extract, chunk, embed, and upsert pipeline
// under memory and rate limits.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/chunker"
	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/extractor"
	"github.com/docsage/docsage/pkg/fetcher"
)

const (
	memoryPollInterval = time.Second
	embedRetryAttempts = 5
)

// Config tunes the ingestion pipeline.
type Config struct {
	EmbedBatchSize    int
	MaxFileBytes      int64
	MaxContentChars   int
	MemoryHighPercent float64
	MemoryWarnPercent float64
	MemoryHighWait    time.Duration
	MemoryWarnWait    time.Duration
	FetchRetries      int
}

// DefaultConfig returns the standard pipeline limits.
func DefaultConfig() Config {
	return Config{
		EmbedBatchSize:    8,
		MaxFileBytes:      5 * 1024 * 1024,
		MaxContentChars:   100_000,
		MemoryHighPercent: 90,
		MemoryWarnPercent: 85,
		MemoryHighWait:    30 * time.Second,
		MemoryWarnWait:    60 * time.Second,
		FetchRetries:      3,
	}
}

// Orchestrator ingests one source spec at a time, document by document.
// Instances must not target the same source_id concurrently.
type Orchestrator struct {
	fetchers  *fetcher.Registry
	extractor *extractor.Extractor
	chunker   *chunker.Chunker
	embedder  domain.Embedder
	store     domain.VectorStore
	probe     MemoryProbe
	cfg       Config
	log       zerolog.Logger
}

// New creates an ingestion orchestrator.
func New(fetchers *fetcher.Registry, ext *extractor.Extractor, chk *chunker.Chunker,
	embedder domain.Embedder, store domain.VectorStore, probe MemoryProbe,
	cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 8
	}
	if probe == nil {
		probe = SystemProbe{}
	}
	return &Orchestrator{
		fetchers:  fetchers,
		extractor: ext,
		chunker:   chk,
		embedder:  embedder,
		store:     store,
		probe:     probe,
		cfg:       cfg,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest processes every document the spec enumerates. Per-document failures
// are collected in the report and never abort the batch; the run is
// cancellable between documents and between embed batches.
func (o *Orchestrator) Ingest(ctx context.Context, spec domain.SourceSpec) (*domain.IngestReport, error) {
	src, err := o.fetchers.For(spec.SourceType)
	if err != nil {
		return nil, err
	}

	refs, err := src.List(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("list %s sources: %w", spec.SourceType, err)
	}

	report := &domain.IngestReport{FilesConsidered: len(refs)}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := o.processDocument(ctx, src, ref, report); err != nil {
			o.log.Error().Err(err).Str("path", ref.Path).
				Msg("embedding dimension does not match the collection, aborting ingest run")
			return report, err
		}
		runtime.GC()
	}

	report.Status = "completed"
	if len(report.Failed) > 0 {
		report.Status = "completed_with_errors"
	}
	o.log.Info().
		Int("considered", report.FilesConsidered).
		Int("fetched", report.FilesFetched).
		Int("skipped", report.FilesSkipped).
		Int("dropped_memory", report.FilesDroppedMemory).
		Int("vectors_upserted", report.VectorsUpserted).
		Int("failed", len(report.Failed)).
		Str("status", report.Status).
		Msg("ingest run finished")
	return report, nil
}

// processDocument runs one document through the pipeline, recording failures
// in the report. A non-nil return is fatal for the whole run: a dimension
// mismatch can only repeat on every remaining document, so it stops ingestion
// until an operator reconciles the embedder and collection dimensions.
func (o *Orchestrator) processDocument(ctx context.Context, src domain.SourceFetcher, ref domain.DocumentRef, report *domain.IngestReport) error {
	log := o.log.With().Str("path", ref.Path).Logger()

	if !o.waitForMemory(ctx, o.cfg.MemoryHighPercent, o.cfg.MemoryHighWait) {
		log.Warn().Msg("dropping document under memory pressure")
		report.FilesDroppedMemory++
		return nil
	}

	if ref.Size > o.cfg.MaxFileBytes {
		log.Debug().Int64("size", ref.Size).Msg("skipping oversized document")
		report.FilesSkipped++
		return nil
	}

	sourceID := sourceIDFor(ref)
	stored, err := o.store.FileSHA(ctx, sourceID)
	if err != nil {
		report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
		return nil
	}
	if stored != "" && stored == ref.SHA {
		log.Debug().Msg("content unchanged, skipping")
		report.FilesSkipped++
		return nil
	}

	doc, err := o.fetchWithRetry(ctx, src, ref)
	if err != nil {
		report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
		return nil
	}
	report.FilesFetched++

	text, err := o.extractor.Extract(doc)
	if err != nil {
		report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
		return nil
	}
	if len(text) > o.cfg.MaxContentChars {
		log.Debug().Int("chars", len(text)).Msg("skipping oversized content")
		report.FilesSkipped++
		return nil
	}

	chunks, err := o.chunker.ChunkDocument(ctx, doc, text)
	if err != nil {
		if errors.Is(err, domain.ErrChunkingTimeout) {
			log.Warn().Msg("chunking timed out, document skipped")
			report.FilesSkipped++
			report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: "chunking_timeout"})
			return nil
		}
		report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
		return nil
	}
	doc.Raw = nil
	report.ChunksCreated += len(chunks)

	// Replacement is atomic per file: stale chunks go before new ones land.
	if stored != "" {
		if err := o.store.Delete(ctx, map[string]string{"source_id": sourceID}); err != nil {
			report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
			return nil
		}
	}

	upserted, err := o.embedAndUpsert(ctx, chunks, report)
	report.VectorsUpserted += upserted
	if err != nil {
		report.Failed = append(report.Failed, domain.FailedFile{Path: ref.Path, Reason: err.Error()})
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return err
		}
	}
	return nil
}

// embedAndUpsert embeds chunks in order-preserving batches and upserts each
// batch before the next is embedded. Already-upserted chunks survive a
// mid-document abort.
func (o *Orchestrator) embedAndUpsert(ctx context.Context, chunks []domain.Chunk, report *domain.IngestReport) (int, error) {
	upserted := 0
	for start := 0; start < len(chunks); start += o.cfg.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return upserted, err
		}

		used, err := o.probe.UsedPercent()
		if err == nil && used >= o.cfg.MemoryHighPercent {
			return upserted, fmt.Errorf("memory at %.1f%%, aborting remaining chunks", used)
		}
		if err == nil && used >= o.cfg.MemoryWarnPercent {
			o.waitForMemory(ctx, o.cfg.MemoryWarnPercent, o.cfg.MemoryWarnWait)
		}

		end := start + o.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := o.embedBatch(ctx, texts)
		if err != nil {
			return upserted, err
		}

		records := make([]domain.VectorRecord, len(batch))
		for i, chunk := range batch {
			records[i] = domain.VectorRecord{
				ID:       chunk.ChunkID,
				Vector:   vectors[i],
				Content:  chunk.Text,
				Metadata: chunkMetadata(chunk),
			}
		}
		if err := o.store.Upsert(ctx, records); err != nil {
			return upserted, err
		}
		upserted += len(records)

		// Batch buffers are dead here; collect before embedding the next one.
		runtime.GC()
	}
	return upserted, nil
}

// embedBatch retries rate-limited and transient embedder calls, honoring any
// server-advised delay before backing off exponentially.
func (o *Orchestrator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt < embedRetryAttempts; attempt++ {
		vectors, err := o.embedder.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return nil, err
		}

		delay := domain.RetryAfterHint(err)
		if delay <= 0 {
			delay = bo.NextBackOff()
		}
		o.log.Warn().Err(err).Dur("delay", delay).Msg("embedder throttled, pausing batch")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("embed batch failed after %d attempts: %w", embedRetryAttempts, lastErr)
}

// fetchWithRetry retries transient fetch failures with exponential backoff.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, src domain.SourceFetcher, ref domain.DocumentRef) (*domain.Document, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.cfg.FetchRetries)), ctx)

	var doc *domain.Document
	err := backoff.Retry(func() error {
		d, ferr := src.Fetch(ctx, ref)
		if ferr != nil {
			if domain.IsRetryable(ferr) {
				return ferr
			}
			return backoff.Permanent(ferr)
		}
		doc = d
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// waitForMemory returns true once utilization is below the threshold,
// forcing a collection first and polling for at most maxWait. Probe failures
// never block ingestion.
func (o *Orchestrator) waitForMemory(ctx context.Context, threshold float64, maxWait time.Duration) bool {
	used, err := o.probe.UsedPercent()
	if err != nil {
		o.log.Warn().Err(err).Msg("memory probe failed, continuing")
		return true
	}
	if used < threshold {
		return true
	}

	runtime.GC()
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(memoryPollInterval):
		}
		used, err = o.probe.UsedPercent()
		if err != nil || used < threshold {
			return true
		}
	}
	return false
}

func sourceIDFor(ref domain.DocumentRef) string {
	switch ref.SourceType {
	case domain.SourceGitMarkdown, domain.SourceGitAPIDef:
		return fetcher.TreeSourceID(ref.Owner, ref.Repository, ref.Path)
	case domain.SourceIssue:
		return fetcher.IssueSourceID(ref.Owner, ref.Repository, ref.IssueNumber)
	case domain.SourceWikiPage, domain.SourceLinkedPage:
		return ref.URL
	default:
		return ref.Path
	}
}

func chunkMetadata(chunk domain.Chunk) map[string]string {
	md := map[string]string{
		"source_id":    chunk.SourceID,
		"source_type":  string(chunk.SourceType),
		"repository":   chunk.Repository,
		"owner":        chunk.Owner,
		"path":         chunk.Path,
		"file_type":    chunk.FileType,
		"url":          chunk.URL,
		"file_sha":     chunk.FileSHA,
		"chunk_index":  strconv.Itoa(chunk.Index),
		"total_chunks": strconv.Itoa(chunk.Total),
		"start_char":   strconv.Itoa(chunk.StartChar),
		"end_char":     strconv.Itoa(chunk.EndChar),
	}
	if chunk.WikiName != "" {
		md["wiki_name"] = chunk.WikiName
		md["depth"] = strconv.Itoa(chunk.Depth)
	}
	if chunk.IssueNumber > 0 {
		md["issue_number"] = strconv.Itoa(chunk.IssueNumber)
		md["issue_state"] = chunk.IssueState
	}
	return md
}
