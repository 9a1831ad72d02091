// Package llm provides the chat completion client used for answering and
// conversation summarization.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/docsage/docsage/pkg/domain"
)

// Config configures the OpenAI chat client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements domain.LLMClient.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
}

// New creates an OpenAI chat client.
func New(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{client: &client, cfg: cfg}, nil
}

// Complete returns the full completion for the message history.
func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: buildMessages(messages),
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion", domain.ErrTransient)
	}
	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: completion stopped by content filter", domain.ErrPolicyRefusal)
	}
	return choice.Message.Content, nil
}

// Stream invokes onDelta for every token delta and returns the accumulated
// text. An onDelta error aborts the stream; context cancellation aborts the
// underlying request.
func (c *OpenAIClient) Stream(ctx context.Context, messages []domain.ChatMessage, onDelta func(delta string) error) (string, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: buildMessages(messages),
	})
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			full.WriteString(choice.Delta.Content)
			if err := onDelta(choice.Delta.Content); err != nil {
				return full.String(), err
			}
		}
		if choice.FinishReason == "content_filter" {
			return full.String(), fmt.Errorf("%w: stream stopped by content filter", domain.ErrPolicyRefusal)
		}
	}
	if err := stream.Err(); err != nil && err != io.EOF {
		return full.String(), classifyError(err)
	}
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

// Health lists models to confirm the provider answers.
func (c *OpenAIClient) Health(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai api not reachable: %w", err)
	}
	return nil
}

func buildMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func classifyError(err error) error {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	msg := strings.ToLower(apierr.Error())
	switch {
	case apierr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("completion: %v: %w", err, &domain.RateLimitError{RetryAfter: retryAfter(apierr)})
	case apierr.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", domain.ErrNoCapacity, err)
	case apierr.StatusCode == http.StatusBadRequest && strings.Contains(msg, "context"):
		return fmt.Errorf("%w: %v", domain.ErrContextTooLong, err)
	case apierr.StatusCode >= 500:
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	default:
		return err
	}
}

// retryAfter reads the provider's Retry-After header, in whole seconds.
func retryAfter(apierr *openai.Error) time.Duration {
	if apierr.Response == nil {
		return 0
	}
	header := apierr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
