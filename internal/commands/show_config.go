// internal/commands/show_config.go
package mcpdispatch

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/mcpdispatch/internal/appconfig"
)

// showCmd groups the 'show' subcommands.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show runtime information",
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings after the config file, environment variables and flags have been merged. Secrets are redacted.`,
	Run: func(cmd *cobra.Command, args []string) {
		appconfig.ShowConfig(cmd.OutOrStdout(), *GetConfig())
	},
}

func init() {
	showCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(showCmd)
}
