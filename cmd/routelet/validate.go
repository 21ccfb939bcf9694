package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/routelet/pkg/presenter"
	"github.com/jingkaihe/routelet/pkg/registry"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate all handler manifests",
	Long: `Load every handler manifest and report rejected ones. Exits non-zero if
any manifest fails validation; valid handlers still load (the registry fails
closed per-handler, never aborting the whole load).`,
	Run: func(cmd *cobra.Command, _ []string) {
		snap, loadErrs := registry.Load(cmd.Context(), handlerDirs()...)

		for i := range loadErrs {
			presenter.Error(&loadErrs[i], "Invalid manifest")
		}

		presenter.Info(fmt.Sprintf("%d handler(s) loaded, %d rejected", snap.Len(), len(loadErrs)))

		if len(loadErrs) > 0 {
			os.Exit(1)
		}
		presenter.Success("All manifests valid")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
