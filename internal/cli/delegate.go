package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"automatosx/internal/delegation"
)

// NewDelegateCmd creates the delegate command.
func NewDelegateCmd() *cobra.Command {
	var (
		sessionID  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "delegate <from-agent> <to-agent> <task>",
		Short: "Delegate a task from one agent to another",
		Long: `Delegate a task from one agent to another.

The delegation engine enforces the per-agent depth limit and rejects
cycles. Without --session a new session is created with the delegating
agent as initiator.`,
		Example: `  # Let the writer hand research off to the analyst
  automatosx delegate writer analyst "summarize last quarter's incidents"

  # Delegate within an existing session
  automatosx delegate writer analyst "refine the summary" --session 4f7c2a...`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			req := delegation.Request{
				FromAgent: args[0],
				ToAgent:   args[1],
				Task:      strings.Join(args[2:], " "),
			}
			if sessionID != "" {
				req.Context = &delegation.RequestContext{SessionID: sessionID}
			}

			result, err := rt.Delegator.Delegate(cmd.Context(), req)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Println(result.Response)
			if cliCtx.Verbose {
				fmt.Fprintf(os.Stderr, "\ndelegation=%s status=%s duration=%s\n",
					result.DelegationID, result.Status, result.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "delegate within an existing session")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the full result as JSON")

	return cmd
}
