package cli

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"automatosx/internal/assembler"
	"automatosx/internal/config"
	"automatosx/internal/delegation"
	"automatosx/internal/errs"
	"automatosx/internal/memory"
	"automatosx/internal/orchestrator"
	"automatosx/internal/profile"
	"automatosx/internal/progress"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/stage"
	"automatosx/internal/workspace"
)

// CLIContext carries configuration and lazily built runtime services to
// the subcommands.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	runtimeOnce sync.Once
	runtime     *Runtime
	runtimeErr  error
}

// Runtime is the assembled service graph. Memory is nil when the store is
// disabled in configuration.
type Runtime struct {
	Loader     *profile.Loader
	Router     *provider.Router
	Memory     *memory.Store
	Sessions   *session.Manager
	Workspace  *workspace.Manager
	Controller *stage.Controller
	Assembler  *assembler.Assembler
	Bus        *progress.Bus
	Orch       *orchestrator.Orchestrator
	Delegator  *delegation.Engine

	db *memory.DB
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// GetRuntime builds the service graph once and reuses it.
func (c *CLIContext) GetRuntime() (*Runtime, error) {
	c.runtimeOnce.Do(func() {
		c.runtime, c.runtimeErr = buildRuntime(c.Config, *c.Logger)
	})
	return c.runtime, c.runtimeErr
}

// Close flushes sessions and closes the memory database.
func (c *CLIContext) Close() error {
	if c.runtime == nil {
		return nil
	}
	var firstErr error
	if c.runtime.Sessions != nil {
		if err := c.runtime.Sessions.Flush(); err != nil {
			firstErr = err
		}
	}
	if c.runtime.db != nil {
		if err := c.runtime.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildRuntime(cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	projectDir := cfg.ProjectDir

	agentsDir := cfg.Agents.Dir
	if agentsDir == "" {
		agentsDir = config.AgentsDir(projectDir)
	}
	abilitiesDir := cfg.Agents.AbilitiesDir
	if abilitiesDir == "" {
		abilitiesDir = config.AbilitiesDir(projectDir)
	}
	loader := profile.NewLoader(agentsDir, abilitiesDir, cfg.Agents.Strict, log)

	router := provider.NewRouterFromConfig(cfg, log)

	var store *memory.Store
	var db *memory.DB
	if cfg.Memory.Enabled {
		path := cfg.Memory.Path
		if path == "" {
			path = config.MemoryDBPath(projectDir)
		}
		var err error
		db, err = memory.Open(path)
		if err != nil {
			return nil, err
		}
		store = memory.NewStore(db, memory.StoreOptions{
			MaxEntries:   cfg.Memory.MaxEntries,
			CleanupBatch: cfg.Memory.CleanupBatch,
			TrackAccess:  cfg.Memory.TrackAccess,
		}, log)
	}

	sessionsPath := cfg.Sessions.Path
	if sessionsPath == "" {
		sessionsPath = config.SessionsFile(projectDir)
	}
	sessions := session.NewManager(sessionsPath, cfg.Sessions.PersistDebounce, log)

	ws := workspace.NewManager(projectDir, log)

	bus := progress.NewBus(cfg.Execution.ProgressUpdateInterval, log)

	controller := stage.NewController(
		stage.NewCheckpointStore(config.CheckpointsDir(projectDir)),
		bus,
		stage.Config{
			StageTimeout:           cfg.Execution.StageTimeout,
			StageMaxRetries:        cfg.Execution.StageMaxRetries,
			StageRetryDelay:        cfg.Execution.StageRetryDelay,
			ContinueOnFailure:      cfg.Execution.ContinueOnFailure,
			PromptTimeout:          cfg.Execution.PromptTimeout,
			ProgressUpdateInterval: cfg.Execution.ProgressUpdateInterval,
		},
		log,
	)

	var searcher assembler.MemorySearcher
	if store != nil {
		searcher = store
	}
	asm := assembler.New(loader, searcher, cfg.Memory.InjectLimit, cfg.Memory.InjectBudget, log)

	orch := orchestrator.New(orchestrator.Deps{
		Assembler: asm,
		Router:    router,
		Sessions:  sessions,
		Memory:    store,
		Stages:    controller,
		Bus:       bus,
		Execution: cfg.Execution,
		Logger:    log,
	})

	delegator := delegation.NewEngine(sessions, loader, orch, cfg.Delegation.MaxDepth, log)

	return &Runtime{
		Loader:     loader,
		Router:     router,
		Memory:     store,
		Sessions:   sessions,
		Workspace:  ws,
		Controller: controller,
		Assembler:  asm,
		Bus:        bus,
		Orch:       orch,
		Delegator:  delegator,
		db:         db,
	}, nil
}

// errNotInitialized reports a subcommand running outside the root command's
// context wiring.
func errNotInitialized() error {
	return errs.New(errs.CodeCLINotInitialized, "CLI context not initialized").
		WithSuggestions("run subcommands through the automatosx root command")
}

type contextKey struct{}

// GetCLIContext extracts the CLI context placed by the root command.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
