package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/pkg/domain"
)

func apiError(t *testing.T, status int, header http.Header) *openai.Error {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	require.NoError(t, err)
	return &openai.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Header: header},
	}
}

func TestClassifyErrorRateLimitCarriesRetryAfter(t *testing.T) {
	err := classifyError(apiError(t, http.StatusTooManyRequests,
		http.Header{"Retry-After": []string{"9"}}))

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 9*time.Second, rle.RetryAfter)
	assert.Equal(t, 9*time.Second, domain.RetryAfterHint(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestClassifyErrorRateLimitWithoutHeader(t *testing.T) {
	err := classifyError(apiError(t, http.StatusTooManyRequests, http.Header{}))

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Zero(t, rle.RetryAfter)
}

func TestClassifyErrorStatusMapping(t *testing.T) {
	assert.ErrorIs(t, classifyError(apiError(t, http.StatusServiceUnavailable, http.Header{})),
		domain.ErrNoCapacity)
	assert.ErrorIs(t, classifyError(apiError(t, http.StatusBadGateway, http.Header{})),
		domain.ErrTransient)
	assert.ErrorIs(t, classifyError(errors.New("connection reset")), domain.ErrTransient)
}

func TestRetryAfterIgnoresUnparseableHeader(t *testing.T) {
	apierr := apiError(t, http.StatusTooManyRequests,
		http.Header{"Retry-After": []string{"Wed, 21 Oct 2026 07:28:00 GMT"}})
	assert.Zero(t, retryAfter(apierr))

	apierr.Response = nil
	assert.Zero(t, retryAfter(apierr))
}
