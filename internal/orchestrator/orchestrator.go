// Package orchestrator drives agent runs end to end: context assembly,
// provider execution, multi-stage workflows, and memory persistence. It
// implements delegation.Executor so delegated calls reuse the same path.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"automatosx/internal/assembler"
	"automatosx/internal/config"
	"automatosx/internal/delegation"
	"automatosx/internal/errs"
	"automatosx/internal/memory"
	"automatosx/internal/profile"
	"automatosx/internal/progress"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/stage"
)

// Deps are the orchestrator's collaborators. Memory may be nil when the
// store is disabled or failed to open; Bus may be nil when nobody renders
// progress.
type Deps struct {
	Assembler *assembler.Assembler
	Router    *provider.Router
	Sessions  *session.Manager
	Memory    *memory.Store
	Stages    *stage.Controller
	Bus       *progress.Bus
	Execution config.ExecutionConfig
	Logger    zerolog.Logger
}

// Orchestrator coordinates one agent run at a time per call; it holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	deps Deps
}

// New creates an orchestrator from its collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// RunOptions tune a top-level run.
type RunOptions struct {
	Provider    string // preferred provider, overriding the profile
	Model       string // model override
	SkipMemory  bool   // skip memory injection
	SessionID   string // join an existing session
	ResumeRunID string // resume a checkpointed multi-stage run

	Interactive bool
	Streaming   bool
	Resumable   bool
	AutoConfirm bool
}

// RunResult is the outcome of a top-level run.
type RunResult struct {
	Agent      string        `json:"agent"`
	Response   string        `json:"response"`
	Success    bool          `json:"success"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	RunID      string        `json:"run_id,omitempty"` // multi-stage runs only
	SessionID  string        `json:"session_id,omitempty"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
	MemoryIDs  []string      `json:"memory_ids,omitempty"` // entries injected into the prompt
	SavedID    string        `json:"saved_id,omitempty"`   // entry persisted from the response
}

// Run executes an agent with a task from the CLI or RPC surface.
func (o *Orchestrator) Run(ctx context.Context, agent, task string, opts RunOptions) (*RunResult, error) {
	aopts := assembler.Options{
		Provider:   opts.Provider,
		Model:      opts.Model,
		SkipMemory: opts.SkipMemory,
		SessionID:  opts.SessionID,
	}
	mode := stage.Mode{
		Interactive: opts.Interactive,
		Streaming:   opts.Streaming,
		Resumable:   opts.Resumable,
		AutoConfirm: opts.AutoConfirm,
	}
	return o.execute(ctx, agent, task, aopts, mode, opts.ResumeRunID)
}

// ExecuteAgent satisfies delegation.Executor: delegated runs are
// non-interactive and never resume.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, agent, task string, opts assembler.Options) (*delegation.ExecutionResult, error) {
	res, err := o.execute(ctx, agent, task, opts, stage.Mode{AutoConfirm: true}, "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errs.Newf(errs.CodeStageFailed, "agent %s run %s finished with failed stages", agent, res.RunID)
	}
	out := &delegation.ExecutionResult{Response: res.Response, MemoryIDs: res.MemoryIDs}
	if res.SavedID != "" {
		out.MemoryIDs = append(out.MemoryIDs, res.SavedID)
	}
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, agent, task string, aopts assembler.Options, mode stage.Mode, resumeID string) (*RunResult, error) {
	start := time.Now()

	ec, err := o.deps.Assembler.Assemble(agent, task, aopts)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Agent:     ec.Agent,
		SessionID: ec.SessionID,
		MemoryIDs: ec.MemoryIDs,
	}

	if ec.Profile.HasStages() {
		err = o.runStaged(ctx, ec, mode, resumeID, result)
	} else {
		err = o.runSingle(ctx, ec, mode, result)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}

	if result.Success && result.Response != "" {
		result.SavedID = o.saveResponse(ec.Agent, task, result.Response)
	}
	return result, nil
}

// runSingle executes a profile without stages as one prompt.
func (o *Orchestrator) runSingle(ctx context.Context, ec *assembler.ExecutionContext, mode stage.Mode, result *RunResult) error {
	if t := o.deps.Execution.PromptTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	// The assembled prompt already carries the system prompt section.
	resp, err := o.deps.Router.Execute(ctx, ec.Provider, provider.ExecutionRequest{
		Prompt:      ec.Prompt,
		Model:       ec.Model,
		Temperature: ec.Temperature,
		MaxTokens:   ec.MaxTokens,
		Agent:       ec.Agent,
	})
	if err != nil {
		return err
	}

	result.Success = true
	result.Response = resp.Content
	result.Provider = resp.Provider
	result.Model = resp.Model
	if resp.Usage != nil {
		result.TokensUsed = resp.Usage.TotalTokens
	}

	if mode.Streaming && o.deps.Execution.Streaming {
		o.publish(progress.Event{Kind: progress.KindTokenStream, Token: resp.Content})
	}
	return nil
}

// runStaged executes a profile's stage workflow through the controller.
func (o *Orchestrator) runStaged(ctx context.Context, ec *assembler.ExecutionContext, mode stage.Mode, resumeID string, result *RunResult) error {
	if o.deps.Stages == nil {
		return errs.Internal("stage controller is not configured", nil)
	}

	runner := &stageRunner{orch: o, ec: ec, streaming: mode.Streaming && o.deps.Execution.Streaming}

	var (
		res *stage.RunResult
		err error
	)
	if resumeID != "" {
		res, err = o.deps.Stages.Resume(ctx, resumeID, ec.Profile.Stages, runner, mode)
	} else {
		res, err = o.deps.Stages.Run(ctx, ec.Agent, ec.Task, ec.Profile.Stages, ec.DelegationChain, runner, mode)
	}
	if err != nil {
		return err
	}

	result.Success = res.Success
	result.Response = res.Output
	result.RunID = res.RunID
	for _, st := range res.Checkpoint.Stages {
		result.TokensUsed += st.TokensUsed
		if st.Model != "" {
			result.Model = st.Model
		}
	}
	return nil
}

// saveResponse persists a run's response to memory. Failures degrade to a
// warning; the run already succeeded.
func (o *Orchestrator) saveResponse(agent, task, response string) string {
	if o.deps.Memory == nil {
		return ""
	}
	content := fmt.Sprintf("Task: %s\n\n%s", task, response)
	entry, err := o.deps.Memory.Add(content, "conversation", agent, nil)
	if err != nil {
		o.deps.Logger.Warn().Err(err).Str("agent", agent).Msg("saving response to memory failed")
		return ""
	}
	return entry.ID
}

func (o *Orchestrator) publish(ev progress.Event) {
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(ev)
	}
}

// stageRunner adapts the router to the stage controller: each stage is one
// prompt carrying the outputs of its completed predecessors.
type stageRunner struct {
	orch      *Orchestrator
	ec        *assembler.ExecutionContext
	streaming bool
}

func (r *stageRunner) RunStage(ctx context.Context, st profile.Stage, prior map[string]*stage.StageState) (*stage.StageOutput, error) {
	req := provider.ExecutionRequest{
		Prompt:      buildStagePrompt(r.ec, st, prior),
		Model:       r.ec.Model,
		Temperature: r.ec.Temperature,
		MaxTokens:   r.ec.MaxTokens,
		Agent:       r.ec.Agent,
	}
	preferred := r.ec.Provider

	// Per-stage overrides beat the profile's choices.
	if st.Provider != "" {
		preferred = st.Provider
	}
	if st.Model != "" {
		req.Model = st.Model
	}
	if st.Temperature != nil {
		req.Temperature = st.Temperature
	}
	if st.MaxTokens > 0 {
		req.MaxTokens = st.MaxTokens
	}

	resp, err := r.orch.deps.Router.Execute(ctx, preferred, req)
	if err != nil {
		return nil, err
	}

	if r.streaming {
		r.orch.publish(progress.Event{Kind: progress.KindTokenStream, StageName: st.Name, Token: resp.Content})
	}

	out := &stage.StageOutput{Output: resp.Content, Model: resp.Model}
	if resp.Usage != nil {
		out.TokensUsed = resp.Usage.TotalTokens
	}
	return out, nil
}

// buildStagePrompt layers the stage instruction and prior completed outputs
// onto the assembled base prompt.
func buildStagePrompt(ec *assembler.ExecutionContext, st profile.Stage, prior map[string]*stage.StageState) string {
	var b strings.Builder
	b.WriteString(ec.Prompt)

	var hasPrior bool
	for _, dep := range st.Dependencies {
		state, ok := prior[dep]
		if !ok || state.Status != stage.StatusCompleted || state.Output == "" {
			continue
		}
		if !hasPrior {
			b.WriteString("\n\n## Previous Stages\n")
			hasPrior = true
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", dep, state.Output)
	}

	fmt.Fprintf(&b, "\n\n## Current Stage: %s\n\n", st.Name)
	if st.Description != "" {
		b.WriteString(st.Description)
	} else {
		fmt.Fprintf(&b, "Complete the %q step of the task.", st.Name)
	}
	return b.String()
}
