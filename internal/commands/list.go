// internal/commands/list.go
package mcpdispatch

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mwiater/mcpdispatch/internal/util"
)

// listCmd groups the listing subcommands.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools or commands",
}

// listToolsCmd prints the registered tool catalog.
var listToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	Long:  `Prints every tool the server would expose with the current configuration, in registration order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		descs := app.Server.Tools()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"tools": descs})
		}

		width := 0
		for _, d := range descs {
			width = max(width, len(d.Name))
		}
		nameStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")).Width(width + 2)
		descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

		fmt.Fprintf(cmd.OutOrStdout(), "Tools (%d):\n", len(descs))
		for _, d := range descs {
			desc := util.Truncate(util.FirstLine(d.Description), 80)
			fmt.Fprintf(cmd.OutOrStdout(), "  %s%s\n", nameStyle.Render(d.Name), descStyle.Render(desc))
		}
		return nil
	},
}

func init() {
	listToolsCmd.Flags().Bool("json", false, "print the tools/list payload as JSON")
	listCmd.AddCommand(listToolsCmd)
	rootCmd.AddCommand(listCmd)
}
