// Package delegation implements agent-to-agent calls with depth and cycle
// enforcement.
package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"automatosx/internal/assembler"
	"automatosx/internal/errs"
	"automatosx/internal/profile"
	"automatosx/internal/session"
)

// Request asks one agent to run a task on behalf of another.
type Request struct {
	FromAgent string          `json:"from_agent"`
	ToAgent   string          `json:"to_agent"`
	Task      string          `json:"task"`
	Context   *RequestContext `json:"context,omitempty"`
}

// RequestContext carries the delegation chain and session through a chain
// of calls.
type RequestContext struct {
	SessionID       string         `json:"session_id,omitempty"`
	DelegationChain []string       `json:"delegation_chain,omitempty"`
	SharedData      map[string]any `json:"shared_data,omitempty"`
}

// Outputs lists what a delegated run produced.
type Outputs struct {
	Files         []string `json:"files,omitempty"`
	MemoryIDs     []string `json:"memory_ids,omitempty"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
}

// Result is the outcome of one delegation.
type Result struct {
	DelegationID string        `json:"delegation_id"`
	FromAgent    string        `json:"from_agent"`
	ToAgent      string        `json:"to_agent"`
	Status       string        `json:"status"`
	Response     string        `json:"response,omitempty"`
	Duration     time.Duration `json:"duration"`
	Outputs      Outputs       `json:"outputs"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
}

// ExecutionResult is what the executor reports back to the engine.
type ExecutionResult struct {
	Response  string
	Files     []string
	MemoryIDs []string
}

// Executor runs an agent with an assembled context. Implemented by the
// orchestrator; defined here to break the package cycle.
type Executor interface {
	ExecuteAgent(ctx context.Context, agent, task string, opts assembler.Options) (*ExecutionResult, error)
}

// Engine validates and dispatches delegations.
type Engine struct {
	sessions *session.Manager
	loader   *profile.Loader
	executor Executor
	defDepth int
	logger   zerolog.Logger
}

// NewEngine creates a delegation engine. All collaborators must be set
// before Delegate is called.
func NewEngine(sessions *session.Manager, loader *profile.Loader, executor Executor, defaultDepth int, logger zerolog.Logger) *Engine {
	if defaultDepth <= 0 {
		defaultDepth = 2
	}
	return &Engine{
		sessions: sessions,
		loader:   loader,
		executor: executor,
		defDepth: defaultDepth,
		logger:   logger,
	}
}

// Delegate validates the request, resolves or creates the session, and
// runs the target agent with an extended delegation chain.
func (e *Engine) Delegate(ctx context.Context, req Request) (*Result, error) {
	if e.sessions == nil || e.loader == nil || e.executor == nil {
		return nil, errs.New(errs.CodeDelegationNotConfigured, "delegation engine is not fully configured")
	}

	fromProfile, err := e.loader.Load(req.FromAgent)
	if err != nil {
		return nil, err
	}
	maxDepth := fromProfile.MaxDelegationDepth(e.defDepth)

	var chain []string
	var sharedData map[string]any
	var sessionID string
	if req.Context != nil {
		chain = req.Context.DelegationChain
		sharedData = req.Context.SharedData
		sessionID = req.Context.SessionID
	}

	// The chain counts in-flight callers, not the new target.
	if len(chain) >= maxDepth {
		return nil, errs.Newf(errs.CodeMaxDepthExceeded,
			"delegation depth %d reached (max %d)", len(chain), maxDepth).
			WithContext("chain", chain).
			WithSuggestions("raise orchestration.max_delegation_depth in the agent profile")
	}

	for _, ancestor := range chain {
		if ancestor == req.ToAgent {
			return nil, errs.Newf(errs.CodeCycleDetected,
				"delegation cycle: %s is already in the chain", req.ToAgent).
				WithContext("chain", chain)
		}
	}

	// Resolve or create the session.
	var sess *session.Session
	if sessionID != "" {
		sess, err = e.sessions.Get(sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status != session.StatusActive {
			return nil, errs.Newf(errs.CodeSessionNotActive,
				"session %s is %s", sess.ID, sess.Status)
		}
	} else {
		sess, err = e.sessions.Create(req.Task, req.FromAgent)
		if err != nil {
			return nil, err
		}
	}

	if err := e.sessions.AddAgent(sess.ID, req.ToAgent); err != nil {
		return nil, err
	}

	childChain := make([]string, 0, len(chain)+1)
	childChain = append(childChain, chain...)
	childChain = append(childChain, req.FromAgent)

	result := &Result{
		DelegationID: uuid.NewString(),
		FromAgent:    req.FromAgent,
		ToAgent:      req.ToAgent,
		StartTime:    time.Now().UTC(),
	}

	e.logger.Info().Str("from", req.FromAgent).Str("to", req.ToAgent).
		Str("session", sess.ID).Int("depth", len(childChain)).Msg("delegating")

	execResult, execErr := e.executor.ExecuteAgent(ctx, req.ToAgent, req.Task, assembler.Options{
		SessionID:       sess.ID,
		DelegationChain: childChain,
		SharedData:      sharedData,
	})

	result.EndTime = time.Now().UTC()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if execErr != nil {
		result.Status = "failed"
		if errs.CodeOf(execErr) != errs.CodeUnknown {
			return result, execErr
		}
		return result, errs.Wrap(errs.CodeDelegationExecutionFailed,
			"delegated execution of "+req.ToAgent+" failed", execErr)
	}

	result.Status = "completed"
	result.Response = execResult.Response
	result.Outputs = Outputs{
		Files:     execResult.Files,
		MemoryIDs: execResult.MemoryIDs,
	}
	return result, nil
}
