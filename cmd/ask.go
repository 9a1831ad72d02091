package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/pkg/domain"
)

var askFlags struct {
	conversationID string
	topK           int
	stream         bool
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the ingested documentation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		question := strings.Join(args, " ")

		if askFlags.stream {
			result, err := a.answer.AskStream(ctx, askFlags.conversationID, question, askFlags.topK,
				func(delta string) error {
					_, werr := fmt.Fprint(os.Stdout, delta)
					return werr
				})
			if err != nil {
				return err
			}
			fmt.Println()
			printCitations(result.Citations, result.ConversationID)
			return nil
		}

		result, err := a.answer.Ask(ctx, askFlags.conversationID, question, askFlags.topK)
		if err != nil {
			return err
		}
		fmt.Println(result.Answer)
		printCitations(result.Citations, result.ConversationID)
		return nil
	},
}

func printCitations(citations []domain.Citation, conversationID string) {
	if len(citations) > 0 {
		fmt.Println("\nSources:")
		for _, cite := range citations {
			fmt.Printf("  [%.2f] %s (%s)\n", cite.Score, cite.Path, cite.URL)
		}
	}
	fmt.Printf("\nConversation: %s\n", conversationID)
}

func init() {
	f := askCmd.Flags()
	f.StringVarP(&askFlags.conversationID, "conversation", "c", "", "conversation id to continue")
	f.IntVar(&askFlags.topK, "top-k", -1, "context chunks to retrieve (-1 = configured default)")
	f.BoolVar(&askFlags.stream, "stream", false, "stream the answer token by token")
}
