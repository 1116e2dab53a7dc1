package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UpRoot-Company/uprootmcp/internal/engine"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or refresh the workspace index",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.Init(flagRoot)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		progress := func(scanned, indexed int) {
			fmt.Printf("\rscanned %d, indexed %d", scanned, indexed)
		}
		if err := eng.Coordinator.BuildAll(cmd.Context(), progress); err != nil {
			return err
		}
		fmt.Printf("\nindexed %d files\n", eng.Trigram.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
