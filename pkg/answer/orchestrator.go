// Package answer orchestrates conversational question answering: memory,
// retrieval, prompting, streaming, and URL correctness.
package answer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/memory"
	"github.com/docsage/docsage/pkg/registry"
	"github.com/docsage/docsage/pkg/retrieval"
)

// Answer is the result of one ask operation.
type Answer struct {
	ConversationID string            `json:"conversation_id"`
	Answer         string            `json:"answer"`
	Citations      []domain.Citation `json:"citations"`
}

// Orchestrator serves ask requests. A conversation admits one in-flight
// request at a time; concurrent asks on the same id fail fast with
// domain.ErrConversationBusy.
type Orchestrator struct {
	retrieval *retrieval.Service
	memory    *memory.Memory
	llm       domain.LLMClient
	validator *registry.Validator
	registry  *registry.Registry
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// New creates an answer orchestrator.
func New(ret *retrieval.Service, mem *memory.Memory, llm domain.LLMClient,
	validator *registry.Validator, reg *registry.Registry, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		retrieval: ret,
		memory:    mem,
		llm:       llm,
		validator: validator,
		registry:  reg,
		log:       log.With().Str("component", "answer").Logger(),
		active:    make(map[string]bool),
	}
}

// Ask answers synchronously. An empty conversationID starts a new
// conversation; topK < 0 uses the configured default.
func (o *Orchestrator) Ask(ctx context.Context, conversationID, question string, topK int) (*Answer, error) {
	return o.run(ctx, conversationID, question, topK, nil)
}

// AskStream answers with token streaming: onDelta receives every delta in
// order before the final answer is returned.
func (o *Orchestrator) AskStream(ctx context.Context, conversationID, question string, topK int, onDelta func(delta string) error) (*Answer, error) {
	if onDelta == nil {
		return nil, fmt.Errorf("onDelta must not be nil")
	}
	return o.run(ctx, conversationID, question, topK, onDelta)
}

func (o *Orchestrator) run(ctx context.Context, conversationID, question string, topK int, onDelta func(delta string) error) (*Answer, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrMalformed)
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if !o.acquire(conversationID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrConversationBusy)
	}
	defer o.release(conversationID)

	state, err := o.memory.LoadOrCreate(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	// The question enters the prompt once, inside the final combined user
	// message; the history snapshot is taken before the append.
	history := o.memory.Snapshot(state)
	if err := o.memory.Append(ctx, state, "user", question); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	result, err := o.retrieval.Retrieve(ctx, question, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	prompt := buildPrompt(o.registry, history, result.Context, question)

	var raw string
	if onDelta != nil {
		raw, err = o.llm.Stream(ctx, prompt, onDelta)
	} else {
		raw, err = o.llm.Complete(ctx, prompt)
	}
	if err != nil {
		// The user message stays; only the partial assistant turn is
		// discarded on cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.log.Debug().Str("conversation_id", conversationID).Msg("ask cancelled mid-completion")
		}
		return nil, fmt.Errorf("completion: %w", err)
	}

	final := o.validator.RewriteText(ctx, raw)
	if err := o.memory.Append(ctx, state, "assistant", final); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	return &Answer{
		ConversationID: conversationID,
		Answer:         final,
		Citations:      result.Citations,
	}, nil
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[id] {
		return false
	}
	o.active[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}
