// Package cmd implements the uprootmcp CLI.
package cmd

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/UpRoot-Company/uprootmcp/internal/logging"
)

var (
	flagRoot    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "uprootmcp",
	Short: "Persistent code intelligence engine served over MCP",
	Long: `uprootmcp indexes a source tree and answers "find the smallest
relevant context for this query" in sub-second latency: adaptive
level-of-detail analysis, a unified context graph, hybrid trigram+vector
search, and token-budgeted evidence packs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logging.DefaultConfig()
		if flagVerbose {
			cfg.Level = "debug"
		}
		// MCP stdio transports own stdout; logs stay on file + stderr.
		cfg.WriteToStderr = isatty.IsTerminal(os.Stderr.Fd())
		logger, _, err := logging.Setup(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "r", ".", "workspace root to index")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
