package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/pkg/domain"
)

func newIssueFetcherWith(t *testing.T, handler http.HandlerFunc) *IssueFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewGitHubClient(GitHubConfig{APIBase: srv.URL, Timeout: 5 * time.Second}, zerolog.Nop())
	return NewIssueFetcher(client, zerolog.Nop())
}

func TestIssueListExcludesPullRequests(t *testing.T) {
	f := newIssueFetcherWith(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/platform/issues", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "bug,docs", r.URL.Query().Get("labels"))
		writeJSON(t, w, []issueItem{
			{Number: 1, Title: "Crash on startup", State: "open", HTMLURL: "https://github.com/acme/platform/issues/1", UpdatedAt: time.Now()},
			{Number: 2, Title: "A pull request", State: "open", PullRequest: &struct{}{}},
		})
	})

	refs, err := f.List(context.Background(), domain.SourceSpec{
		SourceType: domain.SourceIssue,
		Owner:      "acme", Repository: "platform",
		IssueState: "open", Labels: []string{"bug", "docs"},
	})
	require.NoError(t, err)

	require.Len(t, refs, 1)
	assert.Equal(t, 1, refs[0].IssueNumber)
	assert.Equal(t, "open", refs[0].IssueState)
	assert.NotEmpty(t, refs[0].SHA)
}

func TestIssueListSHAChangesWithUpdate(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	serve := func(at time.Time) *IssueFetcher {
		return newIssueFetcherWith(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []issueItem{{Number: 7, Title: "Question", State: "open", UpdatedAt: at}})
		})
	}

	refs1, err := serve(updated).List(context.Background(), domain.SourceSpec{Owner: "a", Repository: "r"})
	require.NoError(t, err)
	refs2, err := serve(updated).List(context.Background(), domain.SourceSpec{Owner: "a", Repository: "r"})
	require.NoError(t, err)
	refs3, err := serve(updated.Add(time.Hour)).List(context.Background(), domain.SourceSpec{Owner: "a", Repository: "r"})
	require.NoError(t, err)

	assert.Equal(t, refs1[0].SHA, refs2[0].SHA, "unchanged issue keeps its sha")
	assert.NotEqual(t, refs1[0].SHA, refs3[0].SHA, "edited issue gets a new sha")
}

func TestIssueFetchConcatenatesWithDelimiters(t *testing.T) {
	f := newIssueFetcherWith(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/platform/issues/5":
			writeJSON(t, w, issueItem{Number: 5, Title: "Crash on startup", Body: "Stack trace attached.", State: "closed"})
		case "/repos/acme/platform/issues/5/comments":
			if r.URL.Query().Get("page") == "1" {
				writeJSON(t, w, []issueComment{{Body: "Same here."}, {Body: "Fixed in 1.2."}})
				return
			}
			writeJSON(t, w, []issueComment{})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	doc, err := f.Fetch(context.Background(), domain.DocumentRef{
		SourceType:  domain.SourceIssue,
		Path:        "issues/5",
		SHA:         "issue-sha",
		Owner:       "acme",
		Repository:  "platform",
		IssueNumber: 5,
	})
	require.NoError(t, err)

	text := string(doc.Raw)
	assert.True(t, strings.HasPrefix(text, "Crash on startup"))
	assert.Contains(t, text, "Stack trace attached.")
	assert.Equal(t, 2, strings.Count(text, "--- comment ---"))
	assert.Contains(t, text, "Same here.")
	assert.Contains(t, text, "Fixed in 1.2.")
	assert.Equal(t, "acme/platform#5", doc.SourceID)
	assert.Equal(t, "closed", doc.IssueState)
	assert.Equal(t, "issue-sha", doc.SHA)
}

func TestIssueListPaginates(t *testing.T) {
	pages := 0
	f := newIssueFetcherWith(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		page := r.URL.Query().Get("page")
		if page == "1" {
			items := make([]issueItem, issuesPerPage)
			for i := range items {
				items[i] = issueItem{Number: i + 1, Title: "t", State: "open", UpdatedAt: time.Now()}
			}
			writeJSON(t, w, items)
			return
		}
		writeJSON(t, w, []issueItem{{Number: 999, Title: "last", State: "open", UpdatedAt: time.Now()}})
	})

	refs, err := f.List(context.Background(), domain.SourceSpec{Owner: "a", Repository: "r"})
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Len(t, refs, issuesPerPage+1)
}
