// Package embedder maps batches of text to fixed-dimension vectors through
// the OpenAI embeddings API.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/docsage/docsage/pkg/domain"
)

// Config configures the OpenAI embedder.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIEmbedder implements domain.Embedder. The same embedder must serve
// ingestion and retrieval so query vectors match the collection dimension.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    Config
}

// New creates an OpenAI embedder.
func New(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client, cfg: cfg}, nil
}

// Embed returns one vector per input text, preserving order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: param.NewOpt(int64(e.cfg.Dimension)),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d inputs",
			domain.ErrTransient, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != e.cfg.Dimension {
			return nil, fmt.Errorf("embedder returned %d dims, expected %d: %w",
				len(vec), e.cfg.Dimension, domain.ErrDimensionMismatch)
		}
		// Index maps the vector back to its input position.
		vectors[item.Index] = vec
	}
	return vectors, nil
}

// Dimension returns the configured vector dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.cfg.Dimension }

// Health embeds a trivial input to confirm the provider answers.
func (e *OpenAIEmbedder) Health(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"ping"})
	return err
}

// classifyError maps provider failures onto the shared error taxonomy.
func classifyError(err error) error {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	switch {
	case apierr.StatusCode == http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(apierr.Error()), "quota") {
			return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("embed: %v: %w", err, &domain.RateLimitError{RetryAfter: retryAfter(apierr)})
	case apierr.StatusCode == http.StatusUnauthorized, apierr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v", domain.ErrAuthRequired, err)
	case apierr.StatusCode >= 500:
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	default:
		return err
	}
}

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
