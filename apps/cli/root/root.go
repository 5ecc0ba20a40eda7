package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Angu admin CLI. Subcommands (bootstrap, restaurant, channel) are attached here.
var rootCmd = &cobra.Command{
	Use:           "angu",
	Short:         "Angu admin CLI",
	Long:          "Administrative utilities for the Angu backend (schema bootstrap, restaurant management, WhatsApp channel inspection).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
