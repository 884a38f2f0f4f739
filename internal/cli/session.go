package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"automatosx/internal/errs"
	"automatosx/internal/session"
)

// NewSessionCmd creates the session command.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage collaboration sessions",
		Long:  `List, inspect, and terminate multi-agent collaboration sessions.`,
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionCompleteCmd())
	cmd.AddCommand(newSessionFailCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		all        bool
		agent      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			var sessions []*session.Session
			switch {
			case agent != "":
				sessions = rt.Sessions.ActiveForAgent(agent)
			case all:
				sessions = rt.Sessions.All()
			default:
				sessions = rt.Sessions.Active()
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tINITIATOR\tAGENTS\tTASK")
			fmt.Fprintln(w, "--\t------\t---------\t------\t----")
			for _, s := range sessions {
				task := s.Task
				if len(task) > 40 {
					task = task[:40] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(s.ID), s.Status, s.Initiator,
					strings.Join(s.Agents, ","), task)
			}
			w.Flush()

			fmt.Printf("\nTotal: %d sessions\n", len(sessions))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include terminated sessions")
	cmd.Flags().StringVar(&agent, "agent", "", "only active sessions involving this agent")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			sess, err := rt.Sessions.Get(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		},
	}
	return cmd
}

func newSessionCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Mark a session completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			if err := rt.Sessions.Complete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Session %s completed\n", shortID(args[0]))
			return nil
		},
	}
	return cmd
}

func newSessionFailCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <session-id>",
		Short: "Mark a session failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			if reason == "" {
				reason = "failed via cli"
			}
			if err := rt.Sessions.Fail(args[0], errs.New(errs.CodeAgentExecution, reason)); err != nil {
				return err
			}
			fmt.Printf("✓ Session %s failed\n", shortID(args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
