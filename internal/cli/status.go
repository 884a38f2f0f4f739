package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider, session, and memory status",
		Long: `Probe the configured providers and summarize runtime state.

Each provider CLI is probed for availability; results are cached for
the configured TTL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			availability := rt.Router.ProbeAll(cmd.Context())

			if jsonOutput {
				status := map[string]any{
					"version":         Version,
					"providers":       availability,
					"router_metrics":  rt.Router.Metrics(),
					"active_sessions": len(rt.Sessions.Active()),
				}
				if rt.Memory != nil {
					if stats, err := rt.Memory.Stats(); err == nil {
						status["memory"] = stats
					}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Printf("automatosx %s\n\n", Version)

			names := make([]string, 0, len(availability))
			for name := range availability {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) == 0 {
				fmt.Println("No providers configured.")
				fmt.Println("\nAdd providers to the config file and retry.")
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PROVIDER\tSTATUS\tVERSION\tLATENCY")
				fmt.Fprintln(w, "--------\t------\t-------\t-------")
				for _, name := range names {
					a := availability[name]
					icon := "✓ available"
					if !a.Available {
						icon = "✗ unavailable"
					}
					version := a.Version
					if version == "" {
						version = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, icon, version, a.Latency.Round(time.Millisecond))
				}
				w.Flush()
			}

			fmt.Printf("\nActive sessions: %d\n", len(rt.Sessions.Active()))

			if rt.Memory != nil {
				if stats, err := rt.Memory.Stats(); err == nil {
					fmt.Printf("Memory entries:  %d\n", stats.TotalEntries)
				}
			} else {
				fmt.Println("Memory:          disabled")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
