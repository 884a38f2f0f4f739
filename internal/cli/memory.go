package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"automatosx/internal/errs"
	"automatosx/internal/memory"
)

// NewMemoryCmd creates the memory command.
func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the memory store",
		Long: `Search, list, and maintain the persistent memory store.

Memory entries are injected into agent prompts by relevance. Entries
are stored in SQLite with full-text search.`,
	}

	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryListCmd())
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryDeleteCmd())
	cmd.AddCommand(newMemoryExportCmd())
	cmd.AddCommand(newMemoryImportCmd())
	cmd.AddCommand(newMemoryStatsCmd())
	cmd.AddCommand(newMemoryClearCmd())

	return cmd
}

func memoryStore(cmd *cobra.Command) (*memory.Store, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, errNotInitialized()
	}
	rt, err := cliCtx.GetRuntime()
	if err != nil {
		return nil, err
	}
	if rt.Memory == nil {
		return nil, errs.New(errs.CodeMemoryNotInitialized, "memory store is disabled").
			WithSuggestions("set memory.enabled: true in the configuration")
	}
	return rt.Memory, nil
}

func newMemorySearchCmd() *cobra.Command {
	var (
		limit      int
		entryType  string
		agent      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over memory entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			results, err := store.Search(strings.Join(args, " "), limit, entryType, agent)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%d. [%s] %s (score %.2f)\n", i+1, r.Entry.Type, shortID(r.Entry.ID), r.Score)
				fmt.Printf("   %s\n", excerpt(r.Entry.Content, 120))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().StringVarP(&entryType, "type", "t", "", "filter by entry type")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newMemoryListCmd() *cobra.Command {
	var (
		limit      int
		offset     int
		entryType  string
		agent      string
		orderBy    string
		order      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			entries, err := store.List(memory.ListOptions{
				Limit:   limit,
				Offset:  offset,
				Type:    entryType,
				Agent:   agent,
				OrderBy: orderBy,
				Order:   order,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Println("No memory entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tAGENT\tCREATED\tCONTENT")
			fmt.Fprintln(w, "--\t----\t-----\t-------\t-------")
			for _, e := range entries {
				agentCol := e.Agent
				if agentCol == "" {
					agentCol = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(e.ID), e.Type, agentCol,
					e.CreatedAt.Format("2006-01-02 15:04"),
					excerpt(e.Content, 50))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.Flags().StringVarP(&entryType, "type", "t", "", "filter by entry type")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&orderBy, "order-by", "created", "sort key: created, accessed, or count")
	cmd.Flags().StringVar(&order, "order", "desc", "sort direction: asc or desc")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newMemoryAddCmd() *cobra.Command {
	var (
		entryType string
		agent     string
		tags      []string
	)

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			entry, err := store.Add(strings.Join(args, " "), entryType, agent, tags)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Stored entry %s\n", entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&entryType, "type", "t", "other", "entry type")
	cmd.Flags().StringVar(&agent, "agent", "", "owning agent")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")

	return cmd
}

func newMemoryDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a memory entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Deleted %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newMemoryExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export all entries to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			count, err := store.Export(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Exported %d entries to %s\n", count, args[0])
			return nil
		},
	}
	return cmd
}

func newMemoryImportCmd() *cobra.Command {
	var (
		skipDuplicates bool
		batchSize      int
		validate       bool
	)

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import entries from a JSON export",
		Long: `Import entries from a JSON export.

Duplicates are detected by content hash and skipped unless
--skip-duplicates=false. With --validate the file is checked and nothing
is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			result, err := store.Import(args[0], memory.ImportOptions{
				SkipDuplicates: skipDuplicates,
				BatchSize:      batchSize,
				Validate:       validate,
			})
			if err != nil {
				return err
			}
			if validate {
				fmt.Printf("✓ Valid: %d entries would import, %d duplicates would be skipped\n",
					result.Imported, result.Skipped)
				return nil
			}
			fmt.Printf("✓ Imported %d entries (%d duplicates skipped)\n", result.Imported, result.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "skip entries whose content already exists")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "entries per transaction (0 = default)")
	cmd.Flags().BoolVar(&validate, "validate", false, "check the file without importing")

	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			stats, err := store.Stats()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Printf("Entries: %d\n", stats.TotalEntries)
			fmt.Printf("DB size: %d bytes\n", stats.DBSizeBytes)
			if len(stats.ByType) > 0 {
				fmt.Println("By type:")
				for typ, n := range stats.ByType {
					fmt.Printf("  %-14s %d\n", typ, n)
				}
			}
			if len(stats.ByAgent) > 0 {
				fmt.Println("By agent:")
				for agent, n := range stats.ByAgent {
					fmt.Printf("  %-14s %d\n", agent, n)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newMemoryClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all memory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memoryStore(cmd)
			if err != nil {
				return err
			}

			if !yes {
				fmt.Print("Delete ALL memory entries? [y/N] ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("✓ Memory cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func excerpt(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
