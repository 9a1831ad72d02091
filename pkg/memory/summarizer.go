package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const (
	fallbackSnippetLen  = 80
	fallbackSnippetsMax = 5
)

const summarizePrompt = `Summarize the following conversation turns for use as compressed chat history.
Respond with a single JSON object and nothing else:
{"summary": "...", "topics_covered": ["..."], "key_questions": ["..."], "important_decisions": ["..."]}`

// Summarizer condenses old conversation turns through the LLM, falling back
// to a deterministic summary when the model cannot produce valid JSON.
type Summarizer struct {
	llm     domain.LLMClient
	retries int
	log     zerolog.Logger
}

// NewSummarizer creates a summarizer with the given retry budget.
func NewSummarizer(llm domain.LLMClient, retries int, log zerolog.Logger) *Summarizer {
	if retries < 0 {
		retries = 0
	}
	return &Summarizer{llm: llm, retries: retries, log: log}
}

type summaryPayload struct {
	Summary      string   `json:"summary"`
	Topics       []string `json:"topics_covered"`
	KeyQuestions []string `json:"key_questions"`
	Decisions    []string `json:"important_decisions"`
}

// Summarize condenses the given turns, folding in any previous summary. It
// never returns nil: on persistent LLM failure the deterministic fallback is
// used.
func (s *Summarizer) Summarize(ctx context.Context, previous *domain.SummaryState, turns []domain.ChatMessage) *domain.SummaryState {
	var payload *summaryPayload
	operation := func() error {
		p, err := s.summarizeOnce(ctx, previous, turns)
		if err != nil {
			return err
		}
		payload = p
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		s.log.Warn().Err(err).Msg("summarization failed, using deterministic fallback")
		return fallbackSummary(previous, turns)
	}

	return &domain.SummaryState{
		Content:      payload.Summary,
		Topics:       payload.Topics,
		KeyQuestions: payload.KeyQuestions,
		Decisions:    payload.Decisions,
	}
}

func (s *Summarizer) summarizeOnce(ctx context.Context, previous *domain.SummaryState, turns []domain.ChatMessage) (*summaryPayload, error) {
	var transcript strings.Builder
	if previous != nil && previous.Content != "" {
		fmt.Fprintf(&transcript, "Previous summary: %s\n\n", previous.Content)
	}
	for _, msg := range turns {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	raw, err := s.llm.Complete(ctx, []domain.ChatMessage{
		{Role: "system", Content: summarizePrompt},
		{Role: "user", Content: transcript.String()},
	})
	if err != nil {
		return nil, err
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: summary not valid JSON: %v", domain.ErrMalformed, err)
	}
	if payload.Summary == "" {
		return nil, fmt.Errorf("%w: summary field empty", domain.ErrMalformed)
	}
	return &payload, nil
}

// extractJSON tolerates models that wrap the object in prose or code fences.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// fallbackSummary builds a deterministic summary from the first user turns
// when the LLM cannot be used. The metadata lists stay empty: only the model
// can extract topics, questions, and decisions.
func fallbackSummary(previous *domain.SummaryState, turns []domain.ChatMessage) *domain.SummaryState {
	var snippets []string
	for _, msg := range turns {
		if msg.Role != "user" {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		if len(text) > fallbackSnippetLen {
			text = text[:fallbackSnippetLen]
		}
		snippets = append(snippets, text)
		if len(snippets) == fallbackSnippetsMax {
			break
		}
	}

	content := "User discussed: " + strings.Join(snippets, "; ")
	if previous != nil && previous.Content != "" {
		content = previous.Content + " " + content
	}
	return &domain.SummaryState{Content: content}
}
