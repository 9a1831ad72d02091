package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/pkg/answer"
	"github.com/docsage/docsage/pkg/domain"
)

// stubAsker scripts answers per test.
type stubAsker struct {
	result *answer.Answer
	err    error
	deltas []string
}

func (s *stubAsker) Ask(ctx context.Context, conversationID, question string, topK int) (*answer.Answer, error) {
	return s.result, s.err
}

func (s *stubAsker) AskStream(ctx context.Context, conversationID, question string, topK int, onDelta func(string) error) (*answer.Answer, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

type stubIngester struct {
	report  *domain.IngestReport
	err     error
	gotSpec domain.SourceSpec
	started chan struct{}
}

func (s *stubIngester) Ingest(ctx context.Context, spec domain.SourceSpec) (*domain.IngestReport, error) {
	s.gotSpec = spec
	if s.started != nil {
		close(s.started)
	}
	return s.report, s.err
}

type okHealth struct{}

func (okHealth) Health(ctx context.Context) error { return nil }

type badHealth struct{}

func (badHealth) Health(ctx context.Context) error { return context.DeadlineExceeded }

func newTestServer(t *testing.T, asker Asker, ingester Ingester, health map[string]HealthChecker) *Server {
	t.Helper()
	if health == nil {
		health = map[string]HealthChecker{"store": okHealth{}}
	}
	jobs := NewJobManager(context.Background(), ingester, zerolog.Nop())
	return NewServer(ServerConfig{Host: "127.0.0.1", Port: 0}, asker, jobs, health, zerolog.Nop())
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAskEndpoint(t *testing.T) {
	asker := &stubAsker{result: &answer.Answer{
		ConversationID: "conv-1",
		Answer:         "Deploy with blue-green.",
		Citations:      []domain.Citation{{Path: "deploy.md", Score: 0.9}},
	}}
	srv := newTestServer(t, asker, &stubIngester{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/ask", map[string]any{"question": "how?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Len(t, got.Citations, 1)
}

func TestAskEndpointValidatesBody(t *testing.T) {
	srv := newTestServer(t, &stubAsker{}, &stubIngester{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/ask", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"busy", domain.ErrConversationBusy, http.StatusConflict},
		{"rate limited", &domain.RateLimitError{RetryAfter: 9 * time.Second}, http.StatusServiceUnavailable},
		{"no capacity", domain.ErrNoCapacity, http.StatusServiceUnavailable},
		{"context too long", domain.ErrContextTooLong, http.StatusBadRequest},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &stubAsker{err: tc.err}, &stubIngester{}, nil)
			rec := doJSON(t, srv, http.MethodPost, "/ask", map[string]any{"question": "q"})
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestAskEndpointRateLimitIncludesRetryHint(t *testing.T) {
	srv := newTestServer(t, &stubAsker{err: &domain.RateLimitError{RetryAfter: 9 * time.Second}}, &stubIngester{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/ask", map[string]any{"question": "q"})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 9, body["retry_after_seconds"])
}

func TestAskStreamEndpoint(t *testing.T) {
	asker := &stubAsker{
		deltas: []string{"Deploy ", "with ", "blue-green."},
		result: &answer.Answer{ConversationID: "conv-2", Answer: "Deploy with blue-green."},
	}
	srv := newTestServer(t, asker, &stubIngester{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/ask/stream", map[string]any{"question": "how?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var frames []map[string]any
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		frames = append(frames, frame)
	}
	require.Len(t, frames, 4)

	var text strings.Builder
	for _, frame := range frames[:3] {
		text.WriteString(frame["delta_text"].(string))
	}
	assert.Equal(t, "Deploy with blue-green.", text.String())
	assert.Equal(t, "conv-2", frames[3]["conversation_id"])
}

func TestIngestEndpointRunsJobAsync(t *testing.T) {
	ing := &stubIngester{
		report:  &domain.IngestReport{FilesConsidered: 1, Status: "completed"},
		started: make(chan struct{}),
	}
	srv := newTestServer(t, &stubAsker{}, ing, nil)

	rec := doJSON(t, srv, http.MethodPost, "/ingest", map[string]any{
		"source_type": "git_markdown",
		"owner":       "acme",
		"repository":  "platform-docs",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)

	select {
	case <-ing.started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}
	assert.Equal(t, domain.SourceGitMarkdown, ing.gotSpec.SourceType)

	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/ingest/"+jobID, nil)
		var job Job
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == JobCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestIngestEndpointRequiresSourceType(t *testing.T) {
	srv := newTestServer(t, &stubAsker{}, &stubIngester{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/ingest", map[string]any{"owner": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t, &stubAsker{}, &stubIngester{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/ingest/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAsker{}, &stubIngester{}, map[string]HealthChecker{
		"store": okHealth{}, "embedder": okHealth{}, "llm": okHealth{},
	})
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	srv := newTestServer(t, &stubAsker{}, &stubIngester{}, map[string]HealthChecker{
		"store": okHealth{}, "llm": badHealth{},
	})
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	llm := components["llm"].(map[string]any)
	assert.Equal(t, "unhealthy", llm["status"])
}
