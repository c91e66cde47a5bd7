// internal/commands/docs.go
package mcpdispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwiater/mcpdispatch/internal/docsearch"
	"github.com/mwiater/mcpdispatch/internal/util"
)

// docsCmd groups the documentation index subcommands.
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Build or query the documentation index",
}

// docsIndexCmd forces the lazy index build, downloading the archive when no
// local corpus is configured.
var docsIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the documentation index and report its size",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		start := time.Now()
		idx, err := app.Docs.Get(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents in %s\n", idx.Len(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// docsSearchCmd runs one query against the index.
var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the documentation index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		query := strings.Join(args, " ")
		results, err := app.Docs.Search(cmd.Context(), query, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintf(out, "No results for %q\n", query)
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(out, "%d. %s (score %.3f)\n", r.Rank, r.Filename, r.Score)
			fmt.Fprintf(out, "%s\n\n", util.Indent(util.Wrap(r.Preview, 76), "   "))
		}
		return nil
	},
}

func init() {
	docsSearchCmd.Flags().IntP("limit", "n", 5, fmt.Sprintf("number of results (1-%d)", docsearch.MaxResults))
	docsCmd.AddCommand(docsIndexCmd)
	docsCmd.AddCommand(docsSearchCmd)
	rootCmd.AddCommand(docsCmd)
}
