package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/pkg/domain"
)

var ingestFlags struct {
	sourceType string
	owner      string
	repo       string
	ref        string
	wikiURL    string
	private    bool
	issueState string
	labels     []string
	since      string
	diagramDir string
	maxLinked  int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one documentation source into the vector store",
	Example: `  docsage ingest --type git_markdown --owner acme --repo platform-docs
  docsage ingest --type issue --owner acme --repo platform --state open
  docsage ingest --type wiki_page --owner acme --repo platform --wiki-url https://acme.example/wiki/Home`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report, err := a.ingest.Ingest(ctx, domain.SourceSpec{
			SourceType: domain.SourceType(ingestFlags.sourceType),
			Owner:      ingestFlags.owner,
			Repository: ingestFlags.repo,
			Ref:        ingestFlags.ref,
			WikiURL:    ingestFlags.wikiURL,
			Private:    ingestFlags.private,
			IssueState: ingestFlags.issueState,
			Labels:     ingestFlags.labels,
			Since:      ingestFlags.since,
			DiagramDir: ingestFlags.diagramDir,
			MaxLinked:  ingestFlags.maxLinked,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.sourceType, "type", "git_markdown",
		"source type: git_markdown, git_api_def, wiki_page, issue, diagram_summary")
	f.StringVar(&ingestFlags.owner, "owner", "", "repository owner")
	f.StringVar(&ingestFlags.repo, "repo", "", "repository name")
	f.StringVar(&ingestFlags.ref, "ref", "", "git ref (default HEAD)")
	f.StringVar(&ingestFlags.wikiURL, "wiki-url", "", "public wiki root URL")
	f.BoolVar(&ingestFlags.private, "private", false, "clone the wiki as a private git repository")
	f.StringVar(&ingestFlags.issueState, "state", "", "issue state filter (open, closed, all)")
	f.StringSliceVar(&ingestFlags.labels, "labels", nil, "issue label filters")
	f.StringVar(&ingestFlags.since, "since", "", "issues updated since (RFC 3339)")
	f.StringVar(&ingestFlags.diagramDir, "diagram-dir", "", "directory of diagram text summaries")
	f.IntVar(&ingestFlags.maxLinked, "max-linked", 0, "max linked pages to follow (0 = unlimited)")
}
