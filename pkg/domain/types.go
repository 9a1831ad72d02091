package domain

import (
	"context"
	"time"
)

// SourceType tags a document with the pipeline that produced it. Extractors
// and chunkers dispatch on this tag and consume only the fields the tag
// defines.
type SourceType string

const (
	SourceGitMarkdown    SourceType = "git_markdown"
	SourceGitAPIDef      SourceType = "git_api_def"
	SourceWikiPage       SourceType = "wiki_page"
	SourceLinkedPage     SourceType = "linked_page"
	SourceIssue          SourceType = "issue"
	SourceDiagramSummary SourceType = "diagram_summary"
)

// DocumentRef identifies a remote document before its bytes are fetched.
type DocumentRef struct {
	SourceType  SourceType `json:"source_type"`
	Path        string     `json:"path"`
	SHA         string     `json:"sha"`
	Size        int64      `json:"size"`
	URL         string     `json:"url"`
	Repository  string     `json:"repository"`
	Owner       string     `json:"owner"`
	Depth       int        `json:"depth,omitempty"`
	WikiName    string     `json:"wiki_name,omitempty"`
	IssueNumber int        `json:"issue_number,omitempty"`
	IssueState  string     `json:"issue_state,omitempty"`
}

// Document carries the raw bytes of a fetched source file. It is transient:
// created by a SourceFetcher and discarded after chunking.
type Document struct {
	SourceID    string     `json:"source_id"`
	SourceType  SourceType `json:"source_type"`
	Path        string     `json:"path"`
	Raw         []byte     `json:"-"`
	SHA         string     `json:"sha"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Repository  string     `json:"repository"`
	Owner       string     `json:"owner"`
	URL         string     `json:"url"`
	Depth       int        `json:"depth,omitempty"`
	WikiName    string     `json:"wiki_name,omitempty"`
	IssueNumber int        `json:"issue_number,omitempty"`
	IssueState  string     `json:"issue_state,omitempty"`
}

// Chunk is the unit of embedding and retrieval: a bounded contiguous
// substring of a document's extracted text plus the metadata needed to cite
// it. ChunkID is stable across re-ingests of unchanged content because it is
// derived from the file SHA and the chunk index.
type Chunk struct {
	ChunkID     string     `json:"chunk_id"`
	Text        string     `json:"text"`
	SourceID    string     `json:"source_id"`
	SourceType  SourceType `json:"source_type"`
	Repository  string     `json:"repository"`
	Owner       string     `json:"owner"`
	Path        string     `json:"path"`
	FileType    string     `json:"file_type"`
	URL         string     `json:"url"`
	FileSHA     string     `json:"file_sha"`
	Index       int        `json:"chunk_index"`
	Total       int        `json:"total_chunks"`
	StartChar   int        `json:"start_char"`
	EndChar     int        `json:"end_char"`
	Depth       int        `json:"depth,omitempty"`
	WikiName    string     `json:"wiki_name,omitempty"`
	IssueNumber int        `json:"issue_number,omitempty"`
	IssueState  string     `json:"issue_state,omitempty"`
}

// VectorRecord is what the vector store persists: the chunk's embedding, its
// text as content, and the remaining chunk fields as flat metadata.
type VectorRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// ScoredChunk is a retrieval candidate returned by the vector store.
type ScoredChunk struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Repository returns the repository metadata field, if present.
func (c ScoredChunk) Repository() string { return c.Metadata["repository"] }

// Citation points a user at the source of an answer. Responses order
// citations by descending score.
type Citation struct {
	Repository string  `json:"repository"`
	Path       string  `json:"path"`
	URL        string  `json:"url"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// ChatMessage is a single conversation turn.
type ChatMessage struct {
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SummaryState captures the summary that replaced the oldest messages of an
// overflowing conversation.
type SummaryState struct {
	Content            string   `json:"content"`
	Topics             []string `json:"topics_covered"`
	KeyQuestions       []string `json:"key_questions"`
	Decisions          []string `json:"important_decisions"`
	MessagesSummarized int      `json:"message_count_summarized"`
}

// ConversationState is the bounded per-conversation history. It is mutated
// only through ConversationMemory.
type ConversationState struct {
	ID             string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
	Summary        *SummaryState `json:"summary,omitempty"`
	TokensEstimate int           `json:"tokens_estimate"`
}

// FailedFile records a per-document ingestion failure. Failures never abort
// the batch.
type FailedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestReport summarizes one ingest run.
type IngestReport struct {
	FilesConsidered    int          `json:"files_considered"`
	FilesFetched       int          `json:"files_fetched"`
	FilesSkipped       int          `json:"files_skipped"`
	FilesDroppedMemory int          `json:"files_dropped_memory"`
	ChunksCreated      int          `json:"chunks_created"`
	VectorsUpserted    int          `json:"vectors_upserted"`
	Failed             []FailedFile `json:"failed"`
	Status             string       `json:"status"` // completed, completed_with_errors
}

// SourceSpec tells a fetcher what to enumerate. Which fields matter depends
// on the source type.
type SourceSpec struct {
	SourceType SourceType `json:"source_type"`
	Owner      string     `json:"owner"`
	Repository string     `json:"repository"`
	Ref        string     `json:"ref,omitempty"`
	WikiURL    string     `json:"wiki_url,omitempty"`
	Private    bool       `json:"private,omitempty"`
	IssueState string     `json:"issue_state,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	Since      string     `json:"since,omitempty"`
	DiagramDir string     `json:"diagram_dir,omitempty"`
	MaxLinked  int        `json:"max_linked_pages,omitempty"`
}

// VectorStore persists embedding records keyed by stable chunk IDs.
// A successfully acknowledged Upsert must be visible to subsequent Query
// within bounded time. Filter arguments are conjunctions of metadata
// equality clauses.
type VectorStore interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]ScoredChunk, error)
	Delete(ctx context.Context, filter map[string]string) error
	// FileSHA returns the stored file_sha for any chunk of the given source,
	// or "" when the source has never been ingested.
	FileSHA(ctx context.Context, sourceID string) (string, error)
	Health(ctx context.Context) error
}

// Embedder maps a batch of texts to fixed-dimension vectors, preserving
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Health(ctx context.Context) error
}

// LLMClient produces chat completions, sync or streamed. Stream invokes
// onDelta for every token delta and returns the accumulated text.
type LLMClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	Stream(ctx context.Context, messages []ChatMessage, onDelta func(delta string) error) (string, error)
	Health(ctx context.Context) error
}

// SourceFetcher enumerates and retrieves raw documents for one source type.
type SourceFetcher interface {
	List(ctx context.Context, spec SourceSpec) ([]DocumentRef, error)
	Fetch(ctx context.Context, ref DocumentRef) (*Document, error)
}

// ConversationStore persists conversation state opaquely, keyed by
// conversation id. Load returns (nil, nil) for an unknown id.
type ConversationStore interface {
	Load(ctx context.Context, id string) (*ConversationState, error)
	Save(ctx context.Context, state *ConversationState) error
	Delete(ctx context.Context, id string) error
}
