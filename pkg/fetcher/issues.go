package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsage/docsage/pkg/domain"
)

const (
	issuesPerPage    = 100
	commentDelimiter = "\n\n--- comment ---\n\n"
)

// IssueFetcher turns GitHub issues into one document each: title, body, and
// comments joined with explicit delimiters.
type IssueFetcher struct {
	client *GitHubClient
	log    zerolog.Logger
}

// NewIssueFetcher creates an issue fetcher.
func NewIssueFetcher(client *GitHubClient, log zerolog.Logger) *IssueFetcher {
	return &IssueFetcher{client: client, log: log.With().Str("component", "issue-fetcher").Logger()}
}

type issueItem struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type issueComment struct {
	Body string `json:"body"`
}

// List paginates issues, excluding pull requests. The SHA is derived from the
// issue number and its update timestamp, so an edited or newly-commented
// issue re-ingests while untouched ones dedup away.
func (f *IssueFetcher) List(ctx context.Context, spec domain.SourceSpec) ([]domain.DocumentRef, error) {
	query := url.Values{"per_page": {strconv.Itoa(issuesPerPage)}}
	if spec.IssueState != "" {
		query.Set("state", spec.IssueState)
	}
	if len(spec.Labels) > 0 {
		query.Set("labels", strings.Join(spec.Labels, ","))
	}
	if spec.Since != "" {
		query.Set("since", spec.Since)
	}

	var refs []domain.DocumentRef
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		var items []issueItem
		err := f.client.GetJSON(ctx,
			fmt.Sprintf("/repos/%s/%s/issues", spec.Owner, spec.Repository), query, &items)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if item.PullRequest != nil {
				continue
			}
			refs = append(refs, domain.DocumentRef{
				SourceType:  domain.SourceIssue,
				Path:        fmt.Sprintf("issues/%d", item.Number),
				SHA:         contentSHA([]byte(fmt.Sprintf("%d:%s", item.Number, item.UpdatedAt.UTC().Format(time.RFC3339)))),
				URL:         item.HTMLURL,
				Repository:  spec.Repository,
				Owner:       spec.Owner,
				IssueNumber: item.Number,
				IssueState:  item.State,
			})
		}
		if len(items) < issuesPerPage {
			break
		}
	}
	return refs, nil
}

// Fetch retrieves the issue and its comments and concatenates them.
func (f *IssueFetcher) Fetch(ctx context.Context, ref domain.DocumentRef) (*domain.Document, error) {
	var issue issueItem
	err := f.client.GetJSON(ctx,
		fmt.Sprintf("/repos/%s/%s/issues/%d", ref.Owner, ref.Repository, ref.IssueNumber), nil, &issue)
	if err != nil {
		return nil, err
	}

	var parts []string
	parts = append(parts, issue.Title)
	if issue.Body != "" {
		parts = append(parts, issue.Body)
	}

	query := url.Values{"per_page": {strconv.Itoa(issuesPerPage)}}
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		var comments []issueComment
		err := f.client.GetJSON(ctx,
			fmt.Sprintf("/repos/%s/%s/issues/%d/comments", ref.Owner, ref.Repository, ref.IssueNumber),
			query, &comments)
		if err != nil {
			return nil, err
		}
		if len(comments) == 0 {
			break
		}
		for _, c := range comments {
			parts = append(parts, c.Body)
		}
		if len(comments) < issuesPerPage {
			break
		}
	}

	text := parts[0]
	if len(parts) > 1 {
		text = parts[0] + "\n\n" + strings.Join(parts[1:], commentDelimiter)
	}

	return &domain.Document{
		SourceID:    IssueSourceID(ref.Owner, ref.Repository, ref.IssueNumber),
		SourceType:  domain.SourceIssue,
		Path:        ref.Path,
		Raw:         []byte(text),
		SHA:         ref.SHA,
		FetchedAt:   time.Now().UTC(),
		Repository:  ref.Repository,
		Owner:       ref.Owner,
		URL:         ref.URL,
		IssueNumber: ref.IssueNumber,
		IssueState:  issue.State,
	}, nil
}

// IssueSourceID is the stable identity of an issue across ingests.
func IssueSourceID(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}
