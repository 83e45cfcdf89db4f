package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "xsvc",
	Short: "Supervise local services over an in-process message bus",
	Long: `xsvc starts the services declared in its configuration in dependency
order, keeps them healthy with periodic checks and bounded restarts, and
wires every process into a priority-lane message bus for heartbeats and
control messages.`,
	// Errors we return are already actionable; no usage dump on top.
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "xsvc version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())
}
