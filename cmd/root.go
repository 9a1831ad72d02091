// Package cmd implements the docsage command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docsage/docsage/pkg/config"
)

// Exit codes: 0 success, 2 configuration error, 3 runtime failure.
const (
	exitConfigError  = 2
	exitRuntimeError = 3
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docsage",
	Short: "Retrieval-augmented question answering over developer documentation",
	Long: `docsage ingests documentation from Git repositories, wikis, GitHub issues,
and diagram summaries into a vector store, and answers questions about it
with cited sources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		return nil
	},
}

// Execute runs the command line and exits with the matching code.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./docsage.yaml)")
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if cfg == nil {
			os.Exit(exitConfigError)
		}
		os.Exit(exitRuntimeError)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.LogJSON {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
