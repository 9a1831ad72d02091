// Package memory maintains bounded per-conversation history, summarizing the
// oldest turns when the window overflows.
package memory

import (
	"context"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const fallbackCharsPerToken = 4

// Config bounds the conversation window.
type Config struct {
	MaxMessages          int
	MaxHistoryTokens     int
	SummarizationEnabled bool
	SummarizationRetries int
}

// DefaultConfig returns the standard memory bounds.
func DefaultConfig() Config {
	return Config{
		MaxMessages:          20,
		MaxHistoryTokens:     6000,
		SummarizationEnabled: true,
		SummarizationRetries: 2,
	}
}

// Memory appends turns to conversation state and keeps the window within its
// message and token bounds. Summarization failures never fail an append; the
// deterministic fallback summary is used instead.
type Memory struct {
	store      domain.ConversationStore
	summarizer *Summarizer
	cfg        Config
	encoding   *tiktoken.Tiktoken
	log        zerolog.Logger
}

// New creates a conversation memory. The LLM client may be nil when
// summarization is disabled.
func New(store domain.ConversationStore, llm domain.LLMClient, cfg Config, log zerolog.Logger) *Memory {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.MaxHistoryTokens <= 0 {
		cfg.MaxHistoryTokens = 6000
	}
	logger := log.With().Str("component", "memory").Logger()

	// Token counts are estimates; when the encoding is unavailable a
	// character heuristic keeps the bound enforceable.
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn().Err(err).Msg("tiktoken encoding unavailable, using character estimate")
		encoding = nil
	}

	var summarizer *Summarizer
	if cfg.SummarizationEnabled && llm != nil {
		summarizer = NewSummarizer(llm, cfg.SummarizationRetries, logger)
	}
	return &Memory{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		encoding:   encoding,
		log:        logger,
	}
}

// LoadOrCreate returns the stored state for id, or a fresh empty state.
func (m *Memory) LoadOrCreate(ctx context.Context, id string) (*domain.ConversationState, error) {
	state, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &domain.ConversationState{ID: id}
	}
	return state, nil
}

// Append adds a turn, compacts the window if it overflows, and persists the
// state.
func (m *Memory) Append(ctx context.Context, state *domain.ConversationState, role, content string) error {
	state.Messages = append(state.Messages, domain.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	state.TokensEstimate += m.countTokens(content)

	if m.overflowing(state) {
		m.compact(ctx, state)
	}
	return m.store.Save(ctx, state)
}

// Save persists the state without appending, used after external mutation
// such as discarding a partial turn.
func (m *Memory) Save(ctx context.Context, state *domain.ConversationState) error {
	return m.store.Save(ctx, state)
}

// Snapshot renders the window as chat messages: the summary, when present,
// becomes a single leading system message carrying the summary content
// verbatim.
func (m *Memory) Snapshot(state *domain.ConversationState) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(state.Messages)+1)
	if state.Summary != nil && state.Summary.Content != "" {
		out = append(out, domain.ChatMessage{
			Role:    "system",
			Content: state.Summary.Content,
		})
	}
	return append(out, state.Messages...)
}

func (m *Memory) overflowing(state *domain.ConversationState) bool {
	return len(state.Messages) > m.cfg.MaxMessages || state.TokensEstimate > m.cfg.MaxHistoryTokens
}

// compact replaces the oldest half of the window with a summary. The newest
// turns always survive verbatim.
func (m *Memory) compact(ctx context.Context, state *domain.ConversationState) {
	cut := len(state.Messages) / 2
	if cut == 0 {
		return
	}
	oldest := state.Messages[:cut]

	var summary *domain.SummaryState
	if m.summarizer != nil {
		summary = m.summarizer.Summarize(ctx, state.Summary, oldest)
	} else {
		summary = fallbackSummary(state.Summary, oldest)
	}
	summary.MessagesSummarized = cut
	if state.Summary != nil {
		summary.MessagesSummarized += state.Summary.MessagesSummarized
	}

	state.Summary = summary
	state.Messages = append([]domain.ChatMessage(nil), state.Messages[cut:]...)
	state.TokensEstimate = m.estimateWindow(state)
	m.log.Debug().
		Str("conversation_id", state.ID).
		Int("messages_summarized", cut).
		Int("tokens_estimate", state.TokensEstimate).
		Msg("conversation window compacted")
}

func (m *Memory) estimateWindow(state *domain.ConversationState) int {
	total := 0
	if state.Summary != nil {
		total += m.countTokens(state.Summary.Content)
	}
	for _, msg := range state.Messages {
		total += m.countTokens(msg.Content)
	}
	return total
}

func (m *Memory) countTokens(text string) int {
	if m.encoding != nil {
		return len(m.encoding.Encode(text, nil, nil))
	}
	return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
}
