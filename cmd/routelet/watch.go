package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/routelet/pkg/presenter"
	"github.com/jingkaihe/routelet/pkg/registry"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch handler directories and reload the registry on change",
	Long: `Watch the handler manifest directories and reload the registry whenever a
manifest changes. Each reload builds a fresh immutable snapshot; in-flight
dispatches keep the snapshot they started with.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		snap := loadSnapshot(ctx)
		presenter.Info(fmt.Sprintf("Watching %d handler(s) for changes (ctrl-c to stop)", snap.Len()))

		watcher, err := registry.NewWatcher(handlerDirs())
		if err != nil {
			presenter.Error(err, "Failed to watch handler directories")
			os.Exit(1)
		}

		for snap := range watcher.Snapshots(ctx) {
			presenter.Info(fmt.Sprintf("Registry reloaded: %d handler(s)", snap.Len()))
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
