package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"automatosx/internal/scheduler"
)

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd() *cobra.Command {
	var (
		tmpDays     int
		sessionDays int
		memoryDays  int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run the maintenance jobs once",
		Long: `Run the maintenance jobs immediately: expired tmp workspace files,
terminated sessions past their retention window, and old memory entries.

The same jobs run automatically on a schedule when maintain.enabled is
set in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			cfg := cliCtx.Config
			if tmpDays == 0 {
				tmpDays = cfg.Workspace.TmpRetentionDays
			}
			if sessionDays == 0 {
				sessionDays = cfg.Sessions.RetentionDays
			}

			jobs := scheduler.MaintenanceJobs(rt.Workspace, rt.Sessions, rt.Memory,
				tmpDays, sessionDays, memoryDays)
			sched := scheduler.New(*cliCtx.Logger, jobs)

			failed := false
			for name, res := range sched.RunAll(cmd.Context()) {
				if res.Err != nil {
					failed = true
					fmt.Printf("✗ %s: %v\n", name, res.Err)
					continue
				}
				fmt.Printf("✓ %s: removed %d\n", name, res.Removed)
			}
			if failed {
				return fmt.Errorf("one or more maintenance jobs failed")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tmpDays, "tmp-days", 0, "tmp file retention in days (0 = config default)")
	cmd.Flags().IntVar(&sessionDays, "session-days", 0, "session retention in days (0 = config default)")
	cmd.Flags().IntVar(&memoryDays, "memory-days", 0, "memory retention in days (0 = 90)")

	return cmd
}
