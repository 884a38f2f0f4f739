package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewAgentCmd creates the agent command.
func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agent profiles",
		Long:  `List and inspect the agent profiles available in this project.`,
	}

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())

	return cmd
}

func newAgentListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			profiles, err := rt.Loader.Profiles()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(profiles))
			for name := range profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			if jsonOutput {
				out := make([]any, 0, len(names))
				for _, name := range names {
					out = append(out, profiles[name])
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(names) == 0 {
				fmt.Println("No agent profiles found.")
				fmt.Println("\nCreate one with: automatosx init")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTEAM\tROLE\tSTAGES")
			fmt.Fprintln(w, "----\t----\t----\t------")
			for _, name := range names {
				p := profiles[name]
				team := p.Team
				if team == "" {
					team = "-"
				}
				role := p.Role
				if role == "" {
					role = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, team, role, len(p.Stages))
			}
			w.Flush()

			fmt.Printf("\nTotal: %d agents\n", len(names))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newAgentShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one agent profile",
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

			p, err := rt.Loader.Load(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}

			fmt.Printf("Name:     %s\n", p.Name)
			if p.DisplayName != "" {
				fmt.Printf("Display:  %s\n", p.DisplayName)
			}
			if p.Team != "" {
				fmt.Printf("Team:     %s\n", p.Team)
			}
			if p.Role != "" {
				fmt.Printf("Role:     %s\n", p.Role)
			}
			if p.Provider != "" {
				fmt.Printf("Provider: %s\n", p.Provider)
			}
			if p.Model != "" {
				fmt.Printf("Model:    %s\n", p.Model)
			}
			if len(p.Abilities) > 0 {
				fmt.Printf("Abilities: %s\n", strings.Join(p.Abilities, ", "))
			}
			fmt.Printf("Max delegation depth: %d\n", p.MaxDelegationDepth(0))

			if len(p.Stages) > 0 {
				fmt.Println("\nStages:")
				for i, st := range p.Stages {
					line := fmt.Sprintf("  %d. %s", i+1, st.Name)
					if len(st.Dependencies) > 0 {
						line += " (after " + strings.Join(st.Dependencies, ", ") + ")"
					}
					if st.Parallel {
						line += " [parallel]"
					}
					if st.Condition != "" {
						line += " [if " + st.Condition + "]"
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
