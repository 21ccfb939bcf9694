package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/routelet/pkg/presenter"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered handlers",
	Long:  `List all registered handlers with their kind, compute tier, trigger count, and description.`,
	Run: func(cmd *cobra.Command, _ []string) {
		snap := loadSnapshot(cmd.Context())

		if snap.Len() == 0 {
			presenter.Info("No handlers registered")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTIER\tTRIGGERS\tDESCRIPTION")
		fmt.Fprintln(tw, "--\t----\t----\t--------\t-----------")

		for _, desc := range snap.All() {
			doc := desc.Doc
			if len(doc) > 60 {
				doc = doc[:57] + "..."
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", desc.ID, desc.Kind, desc.DefaultComputeTier, len(desc.Triggers), doc)
		}
		tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
