package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "leakscope",
		Short:        "Scan repository history for leaked credentials and rate commit risk",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $LEAKSCOPE_CONFIG)")

	root.AddCommand(
		newServeCommand(&configPath),
		newScanCommand(&configPath),
		newTrainCommand(&configPath),
		newModelCommand(&configPath),
		newExportCommand(&configPath),
		newFeedbackCommand(&configPath),
	)
	return root
}
