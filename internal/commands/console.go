// internal/commands/console.go
package mcpdispatch

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/mcpdispatch/internal/tui"
)

// startConsole is a function alias to tui.StartConsole so tests can stub it.
var startConsole = tui.StartConsole

// consoleCmd opens the interactive tool console.
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start an interactive tool console",
	Long:  `The 'console' command opens a terminal UI for calling tools by name with JSON arguments and browsing their results.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		return startConsole(cmd.Context(), app.Dispatcher, app.Server.Tools())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
