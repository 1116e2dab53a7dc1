package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UpRoot-Company/uprootmcp/internal/engine"
	"github.com/UpRoot-Company/uprootmcp/internal/mcp"
)

var flagServeNoWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP pillar tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := engine.Init(flagRoot)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		// Index in the background so the server answers immediately;
		// early queries see partial results until the build completes.
		go func() {
			_ = eng.Coordinator.BuildAll(ctx, nil)
		}()

		if !flagServeNoWatch {
			if err := eng.StartWatching(ctx); err != nil {
				return err
			}
		}

		server, err := mcp.NewServer(eng.Pillars)
		if err != nil {
			return err
		}
		return server.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagServeNoWatch, "no-watch", false, "disable the file watcher")
	rootCmd.AddCommand(serveCmd)
}
