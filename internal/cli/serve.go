package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"automatosx/internal/profile"
	"automatosx/internal/provider"
	"automatosx/internal/rpc/server"
	"automatosx/internal/rpc/transport"
	"automatosx/internal/scheduler"
	"automatosx/internal/tools"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON-RPC stdio server",
		Long: `Start the JSON-RPC 2.0 server on stdin/stdout.

The server exposes the agent runtime as a tool surface for editor and
assistant integrations. Heavy initialization (database, providers) is
deferred until the client sends its initialize request. All logging goes
to stderr so the stdio channel carries only protocol frames.`,
		Example: `  # Serve on stdio (typically launched by an editor)
  automatosx serve

  # Serve with verbose logging on stderr
  automatosx serve --verbose`,
		RunE: runServe,
	}

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return errNotInitialized()
	}

	cfg := cliCtx.Config
	log := cliCtx.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var maint *scheduler.Scheduler

	bootstrap := func(ctx context.Context) (*tools.Registry, error) {
		rt, err := cliCtx.GetRuntime()
		if err != nil {
			return nil, err
		}

		if cfg.Agents.Watch {
			if w, err := profile.NewWatcher(rt.Loader, *log); err != nil {
				log.Warn().Err(err).Msg("profile watcher unavailable")
			} else {
				go w.Run(ctx)
			}
		}

		monitor := provider.NewMonitor(rt.Router, cfg.Router.GetAvailabilityTTL(), *log)
		go monitor.Run(ctx)

		if cfg.Maintain.Enabled {
			maint = scheduler.New(*log, scheduler.MaintenanceJobs(
				rt.Workspace, rt.Sessions, rt.Memory,
				cfg.Workspace.TmpRetentionDays, cfg.Sessions.RetentionDays, 0,
			))
			schedule := cfg.Maintain.Schedule
			if schedule == "" {
				schedule = "0 3 * * *"
			}
			if err := maint.Start(schedule); err != nil {
				log.Warn().Err(err).Msg("maintenance scheduler disabled")
				maint = nil
			}
		}

		return server.BuildRegistry(&server.Services{
			Orchestrator: rt.Orch,
			Loader:       rt.Loader,
			Sessions:     rt.Sessions,
			Memory:       rt.Memory,
			Router:       rt.Router,
			Version:      Version,
		}), nil
	}

	srv := server.New("automatosx", Version, bootstrap, *log)
	t := transport.NewStdio()
	defer t.Close()

	log.Info().Msg("serving JSON-RPC on stdio")
	err := srv.Serve(ctx, t)

	if maint != nil {
		maint.Stop()
	}
	return err
}
