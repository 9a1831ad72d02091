package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewFromEntries(map[string]Entry{
		"billing": {Owner: "acme", Repo: "billing-service"},
		"gateway": {Owner: "acme", Repo: "gateway"},
	}, "github.com")
}

func newTestValidator(t *testing.T, cfg ValidatorConfig) *Validator {
	t.Helper()
	return NewValidator(testRegistry(), nil, cfg, zerolog.Nop())
}

func TestCanonicalizeWrongOwner(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{})
	got := v.Canonicalize("https://github.com/somefork/billing")
	assert.Equal(t, "https://github.com/acme/billing-service", got)
}

func TestCanonicalizeWrongOwnerKeepsFilePath(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{})

	got := v.Canonicalize("https://github.com/somefork/gateway/blob/main/README.md")
	assert.Equal(t, "https://github.com/acme/gateway/blob/main/README.md", got)

	// Component aliases map onto a differently named repository.
	got = v.Canonicalize("https://github.com/somefork/billing/blob/main/docs/setup.md")
	assert.Equal(t, "https://github.com/acme/billing-service/blob/main/docs/setup.md", got)
}

func TestCanonicalizeTreePathCollapse(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{})
	got := v.Canonicalize("https://github.com/acme/monorepo/tree/main/services/gateway")
	assert.Equal(t, "https://github.com/acme/gateway", got)
}

func TestCanonicalizeUnknownPassesThrough(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{})
	for _, raw := range []string{
		"https://github.com/acme/unrelated",
		"https://example.org/acme/billing",
		"not a url",
	} {
		assert.Equal(t, raw, v.Canonicalize(raw), raw)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{})
	inputs := []string{
		"https://github.com/somefork/billing",
		"https://github.com/somefork/gateway/blob/main/README.md",
		"https://github.com/acme/monorepo/tree/main/services/gateway",
		"https://github.com/acme/unrelated",
	}
	for _, raw := range inputs {
		once := v.Canonicalize(raw)
		assert.Equal(t, once, v.Canonicalize(once), raw)
	}
}

func TestReachableProbesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewValidator(testRegistry(), srv.Client(), ValidatorConfig{CacheTTL: time.Minute}, zerolog.Nop())

	require.True(t, v.Reachable(context.Background(), srv.URL))
	require.True(t, v.Reachable(context.Background(), srv.URL))
	assert.Equal(t, int32(1), calls.Load(), "second call should hit the cache")
}

func TestReachableHeadFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewValidator(testRegistry(), srv.Client(), ValidatorConfig{}, zerolog.Nop())
	assert.True(t, v.Reachable(context.Background(), srv.URL))
}

func TestReachableNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	v := NewValidator(testRegistry(), srv.Client(), ValidatorConfig{}, zerolog.Nop())
	assert.False(t, v.Reachable(context.Background(), srv.URL))
}

func TestReachableTrustedDomainSkipsProbe(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{TrustedDomains: []string{"docs.example.com"}})
	// No server behind this host; trust short-circuits before any probe.
	assert.True(t, v.Reachable(context.Background(), "https://docs.example.com/page"))
}

func TestRewriteTextDropsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	v := NewValidator(testRegistry(), srv.Client(), ValidatorConfig{}, zerolog.Nop())
	text := "See " + srv.URL + "/good and " + srv.URL + "/gone."

	got := v.RewriteText(context.Background(), text)
	assert.Contains(t, got, srv.URL+"/good")
	assert.NotContains(t, got, "/gone")
	assert.True(t, len(got) > 0 && got[len(got)-1] == '.', "trailing punctuation survives the drop")
}

func TestRewriteTextCanonicalizesKnownRepos(t *testing.T) {
	v := newTestValidator(t, ValidatorConfig{TrustedDomains: []string{"github.com"}})
	text := "Fork lives at https://github.com/somefork/billing, upstream unchanged."

	got := v.RewriteText(context.Background(), text)
	assert.Contains(t, got, "https://github.com/acme/billing-service,")
	assert.NotContains(t, got, "somefork")
}
