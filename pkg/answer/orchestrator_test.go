package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/memory"
	"github.com/docsage/docsage/pkg/registry"
	"github.com/docsage/docsage/pkg/retrieval"
	"github.com/docsage/docsage/pkg/store"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fixedEmbedder) Dimension() int                   { return 2 }
func (fixedEmbedder) Health(ctx context.Context) error { return nil }

// stubLLM replies with a fixed answer, optionally blocking until released.
type stubLLM struct {
	answer  string
	err     error
	block   chan struct{}
	prompts [][]domain.ChatMessage
}

func (s *stubLLM) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	s.prompts = append(s.prompts, messages)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubLLM) Stream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (string, error) {
	full, err := s.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(full, " ") {
		if err := onDelta(word); err != nil {
			return "", err
		}
	}
	return full, nil
}

func (s *stubLLM) Health(ctx context.Context) error { return nil }

func newTestOrchestrator(t *testing.T, llm domain.LLMClient) (*Orchestrator, *store.MemoryConversationStore) {
	t.Helper()

	vs := store.NewMemoryStore(2)
	require.NoError(t, vs.Upsert(context.Background(), []domain.VectorRecord{{
		ID:      "doc-0",
		Vector:  []float32{1, 0},
		Content: "Deploy with the blue-green strategy.",
		Metadata: map[string]string{
			"repository": "platform-docs",
			"path":       "deploy.md",
			"url":        "https://github.com/acme/platform-docs/blob/main/deploy.md",
		},
	}}))

	conv := store.NewMemoryConversationStore()
	mem := memory.New(conv, llm, memory.DefaultConfig(), zerolog.Nop())
	ret := retrieval.New(fixedEmbedder{}, vs, retrieval.DefaultConfig(), zerolog.Nop())

	reg := registry.NewFromEntries(map[string]registry.Entry{"platform-docs": {Owner: "acme"}}, "github.com")
	validator := registry.NewValidator(reg, nil, registry.ValidatorConfig{
		TrustedDomains: []string{"github.com"},
	}, zerolog.Nop())

	return New(ret, mem, llm, validator, reg, zerolog.Nop()), conv
}

func TestAskReturnsAnswerWithCitations(t *testing.T) {
	llm := &stubLLM{answer: "Use blue-green deployments."}
	o, conv := newTestOrchestrator(t, llm)

	result, err := o.Ask(context.Background(), "", "how do I deploy?", -1)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ConversationID)
	assert.Equal(t, "Use blue-green deployments.", result.Answer)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "deploy.md", result.Citations[0].Path)

	state, err := conv.Load(context.Background(), result.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "user", state.Messages[0].Role)
	assert.Equal(t, "assistant", state.Messages[1].Role)
}

func TestAskPromptContainsContextAndQuestionOnce(t *testing.T) {
	llm := &stubLLM{answer: "ok"}
	o, _ := newTestOrchestrator(t, llm)

	_, err := o.Ask(context.Background(), "", "how do I deploy?", -1)
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	require.GreaterOrEqual(t, len(prompt), 2)
	assert.Equal(t, "system", prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "platform-docs")

	last := prompt[len(prompt)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "Deploy with the blue-green strategy.")
	assert.Equal(t, 1, strings.Count(last.Content, "how do I deploy?"))
	for _, msg := range prompt[:len(prompt)-1] {
		assert.NotContains(t, msg.Content, "how do I deploy?")
	}
}

func TestAskRewritesWrongOwnerURLs(t *testing.T) {
	llm := &stubLLM{answer: "See https://github.com/somefork/platform-docs for details."}
	o, _ := newTestOrchestrator(t, llm)

	result, err := o.Ask(context.Background(), "", "where is the repo?", -1)
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "https://github.com/acme/platform-docs")
	assert.NotContains(t, result.Answer, "somefork")
}

func TestAskStreamDeliversDeltasInOrder(t *testing.T) {
	llm := &stubLLM{answer: "one two three"}
	o, _ := newTestOrchestrator(t, llm)

	var deltas []string
	result, err := o.AskStream(context.Background(), "", "question?", -1, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", strings.Join(deltas, ""))
	assert.Equal(t, "one two three", result.Answer)
}

func TestAskBusyConversation(t *testing.T) {
	llm := &stubLLM{answer: "slow answer", block: make(chan struct{})}
	o, conv := newTestOrchestrator(t, llm)

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.Ask(context.Background(), "conv-1", "first question", -1)
		firstDone <- err
	}()

	// The lock is held before the user message is persisted, so once the
	// state is visible the conversation is busy.
	require.Eventually(t, func() bool {
		state, _ := conv.Load(context.Background(), "conv-1")
		return state != nil && len(state.Messages) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := o.Ask(context.Background(), "conv-1", "second question", -1)
	require.True(t, errors.Is(err, domain.ErrConversationBusy), "got %v", err)

	close(llm.block)
	require.NoError(t, <-firstDone)

	// Released: the conversation accepts requests again.
	_, err = o.Ask(context.Background(), "conv-1", "third question", -1)
	require.NoError(t, err)
}

func TestAskCancelledKeepsUserMessageOnly(t *testing.T) {
	llm := &stubLLM{answer: "never delivered", block: make(chan struct{})}
	o, conv := newTestOrchestrator(t, llm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Ask(ctx, "conv-cancel", "question before cancel", -1)
		done <- err
	}()

	// Let the request reach the blocked LLM call, then cancel.
	require.Eventually(t, func() bool {
		state, _ := conv.Load(context.Background(), "conv-cancel")
		return state != nil && len(state.Messages) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.Error(t, <-done)

	state, err := conv.Load(context.Background(), "conv-cancel")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Messages, 1, "partial assistant message must not persist")
	assert.Equal(t, "user", state.Messages[0].Role)
}

func TestAskEmptyQuestion(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubLLM{answer: "x"})
	_, err := o.Ask(context.Background(), "", "", -1)
	require.ErrorIs(t, err, domain.ErrMalformed)
}
