package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/UpRoot-Company/uprootmcp/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, graph, and queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.Init(flagRoot)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		graphStats := eng.UCG.GetStats()
		promotions := eng.Analyzer.PromotionStats()
		activity := eng.Queue.GetActivitySnapshot()

		fmt.Printf("workspace      %s\n", eng.Workspace.Root())
		fmt.Printf("fingerprint    %s\n", eng.Workspace.Fingerprint())
		fmt.Printf("trigram files  %s\n", humanize.Comma(int64(eng.Trigram.Len())))
		fmt.Printf("graph          %d files, %d symbols, %d import edges, %d call edges\n",
			graphStats.Files, graphStats.Symbols, graphStats.ImportEdges, graphStats.CallEdges)
		fmt.Printf("ghosts         %d\n", graphStats.Ghosts)
		fmt.Printf("vectors        %s (%s)\n",
			humanize.Comma(int64(eng.Vectors.Count())), eng.Embedder.ModelID())
		fmt.Printf("doc chunks     %s\n", humanize.Comma(int64(eng.Docs.Count())))
		fmt.Printf("promotions     %d (fallback rate %.1f%%)\n",
			promotions.Promotions, promotions.FallbackRate*100)
		fmt.Printf("queue          high=%d medium=%d low=%d in-flight=%d\n",
			activity.QueuedHigh, activity.QueuedMedium, activity.QueuedLow, activity.InFlight)
		if eng.Store.Ephemeral() {
			fmt.Println("storage        EPHEMERAL (demoted to memory)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
