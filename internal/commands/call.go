// internal/commands/call.go
package mcpdispatch

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
)

var (
	successfulResult = color.New(color.FgGreen).SprintFunc()
	failedResult     = color.New(color.FgRed).SprintFunc()
)

// callCmd invokes one tool in-process through the dispatcher.
var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call a tool once and print its result",
	Long: `The 'call' command dispatches a single tool call in-process, exactly as a
transport would, and prints the result. Arguments are a JSON object and default
to {}.

  mcpdispatch call add '{"a": 2, "b": 3}'`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := json.RawMessage(`{}`)
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("arguments must be valid JSON, got %q", args[1])
			}
			raw = json.RawMessage(args[1])
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		res := app.Dispatcher.Dispatch(cmd.Context(), args[0], raw)

		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()
		if !res.OK() {
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				_ = enc.Encode(res.Err.RPC())
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", failedResult("FAILED"), res.Err.Kind, res.Err.Message)
			}
			return res.Err
		}

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Value)
		}
		fmt.Fprintf(out, "%s %s\n", successfulResult("OK"), args[0])
		_, err = pp.Fprintln(out, res.Value)
		return err
	},
}

func init() {
	callCmd.Flags().Bool("json", false, "print the result as indented JSON")
	rootCmd.AddCommand(callCmd)
}
