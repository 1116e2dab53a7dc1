package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/UpRoot-Company/uprootmcp/internal/engine"
	"github.com/UpRoot-Company/uprootmcp/internal/search"
)

var (
	flagSearchLimit  int
	flagSearchExpand bool
	flagSearchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a hybrid search against the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.Init(flagRoot)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		if err := eng.Coordinator.BuildAll(cmd.Context(), nil); err != nil {
			return err
		}

		resp, err := eng.Search.Search(cmd.Context(), args[0], search.Options{
			MaxResults:          flagSearchLimit,
			ExpandRelationships: flagSearchExpand,
			IncludeDocs:         true,
		})
		if err != nil {
			return err
		}

		if flagSearchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		for _, cluster := range resp.Clusters {
			fmt.Printf("%-8.3f %s", cluster.RelevanceScore, cluster.Seed.Path)
			if cluster.Seed.SymbolName != "" {
				fmt.Printf("  (%s)", cluster.Seed.SymbolName)
			}
			fmt.Printf("  [%s]\n", cluster.ClusterType)
		}
		if resp.Degraded {
			fmt.Printf("degraded: %v\n", resp.DegradedReasons)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().BoolVar(&flagSearchExpand, "expand", false, "expand callers/callees/type family")
	searchCmd.Flags().BoolVar(&flagSearchJSON, "json", false, "emit the full response as JSON")
	rootCmd.AddCommand(searchCmd)
}
