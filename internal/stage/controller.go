package stage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"automatosx/internal/errs"
	"automatosx/internal/profile"
	"automatosx/internal/progress"
)

// StageOutput is what a runner reports for one completed stage.
type StageOutput struct {
	Output     string
	TokensUsed int
	Model      string
}

// Runner executes a single stage. prior holds the states of all stages
// scheduled before this one, keyed by name.
type Runner interface {
	RunStage(ctx context.Context, st profile.Stage, prior map[string]*StageState) (*StageOutput, error)
}

// Mode selects execution behavior for one run.
type Mode struct {
	Interactive bool
	Streaming   bool
	Resumable   bool
	AutoConfirm bool
}

// Config carries the stage-execution defaults from configuration.
type Config struct {
	StageTimeout           time.Duration
	StageMaxRetries        int
	StageRetryDelay        time.Duration
	ContinueOnFailure      bool
	PromptTimeout          time.Duration
	ProgressUpdateInterval time.Duration
}

// RunResult is the outcome of a multi-stage run.
type RunResult struct {
	RunID      string
	Success    bool
	Output     string
	Checkpoint *Checkpoint
}

// Controller plans and executes multi-stage workflows.
type Controller struct {
	store     *CheckpointStore
	bus       *progress.Bus
	cfg       Config
	confirmer Confirmer
	logger    zerolog.Logger
}

// NewController creates a controller. bus may be nil when nobody renders
// progress.
func NewController(store *CheckpointStore, bus *progress.Bus, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.StageRetryDelay <= 0 {
		cfg.StageRetryDelay = 2 * time.Second
	}
	if cfg.ProgressUpdateInterval <= 0 {
		cfg.ProgressUpdateInterval = 2 * time.Second
	}
	return &Controller{
		store:     store,
		bus:       bus,
		cfg:       cfg,
		confirmer: TerminalConfirmer(cfg.PromptTimeout),
		logger:    logger,
	}
}

// SetConfirmer overrides the interactive checkpoint decision (for tests
// and embedding).
func (c *Controller) SetConfirmer(f Confirmer) {
	c.confirmer = f
}

// Run executes the stages of an agent profile from scratch.
func (c *Controller) Run(ctx context.Context, agentName, task string, stages []profile.Stage, chain []string, runner Runner, mode Mode) (*RunResult, error) {
	plan, err := BuildPlan(stages)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cp := &Checkpoint{
		RunID:     uuid.NewString(),
		AgentName: agentName,
		Task:      task,
		Chain:     append([]string(nil), chain...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, st := range plan.Topo {
		cp.Stages = append(cp.Stages, &StageState{Name: st.Name, Status: StatusPending})
	}

	return c.execute(ctx, plan, cp, runner, mode)
}

// Resume continues a checkpointed run: completed stages fast-forward,
// everything else re-runs. Skipped stages re-evaluate their conditions.
func (c *Controller) Resume(ctx context.Context, runID string, stages []profile.Stage, runner Runner, mode Mode) (*RunResult, error) {
	if c.store == nil {
		return nil, errs.New(errs.CodeCheckpointNotFound, "no checkpoint store configured")
	}
	cp, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}

	plan, err := BuildPlan(stages)
	if err != nil {
		return nil, err
	}

	// Reconcile: keep completed states, reset the rest to pending.
	for _, st := range plan.Topo {
		state := cp.StageByName(st.Name)
		if state == nil {
			cp.Stages = append(cp.Stages, &StageState{Name: st.Name, Status: StatusPending})
			continue
		}
		if state.Status != StatusCompleted {
			state.Status = StatusPending
			state.Error = ""
		}
	}

	mode.Resumable = true
	return c.execute(ctx, plan, cp, runner, mode)
}

func (c *Controller) execute(ctx context.Context, plan *Plan, cp *Checkpoint, runner Runner, mode Mode) (*RunResult, error) {
	var mu sync.Mutex // guards cp stage states and persistence
	results := make(map[string]*StageState, len(cp.Stages))
	for _, st := range cp.Stages {
		results[st.Name] = st
	}

	persist := func() {
		if !mode.Resumable || c.store == nil {
			return
		}
		if err := c.store.Save(cp); err != nil {
			c.logger.Warn().Err(err).Str("run", cp.RunID).Msg("checkpoint save failed")
		}
	}

	mu.Lock()
	persist()
	mu.Unlock()

	aborted := false
	stageIndex := make(map[string]int, len(plan.Topo))
	for i, st := range plan.Topo {
		stageIndex[st.Name] = i
	}

waves:
	for waveIdx, wave := range plan.Waves {
		if aborted {
			break
		}

		pending := c.wavePending(wave, results)
		if len(pending) == 0 {
			continue
		}

		if mode.Interactive && !mode.AutoConfirm {
			names := make([]string, 0, len(pending))
			for _, st := range pending {
				names = append(names, st.Name)
			}
			c.publish(progress.Event{Kind: progress.KindCheckpoint,
				Message: "wave " + strings.Join(names, ", ")})

			proceed, err := c.confirmer(ctx, waveIdx, names)
			if err != nil {
				return c.finish(cp, plan, results, &mu), err
			}
			if !proceed {
				c.logger.Info().Int("wave", waveIdx).Msg("run aborted at checkpoint")
				break waves
			}
		}

		// Parallel stages first, one worker per stage.
		var parallel []profile.Stage
		for _, st := range wave.Parallel {
			if results[st.Name].Status == StatusPending {
				parallel = append(parallel, st)
			}
		}
		if len(parallel) > 0 {
			var waveErr error
			if c.cfg.ContinueOnFailure {
				// Siblings keep running when one fails; no shared cancel.
				var wg sync.WaitGroup
				for _, st := range parallel {
					wg.Add(1)
					go func() {
						defer wg.Done()
						c.runStage(ctx, st, stageIndex[st.Name], runner, results, &mu, persist, mode)
					}()
				}
				wg.Wait()
			} else {
				g, gctx := errgroup.WithContext(ctx)
				for _, st := range parallel {
					g.Go(func() error {
						return c.runStage(gctx, st, stageIndex[st.Name], runner, results, &mu, persist, mode)
					})
				}
				waveErr = g.Wait()
			}
			if waveErr != nil {
				aborted = true
				if ctx.Err() != nil {
					return c.finish(cp, plan, results, &mu), ctx.Err()
				}
			}
		}

		if aborted {
			break
		}

		for _, st := range wave.Serial {
			if results[st.Name].Status != StatusPending {
				continue
			}
			if err := c.runStage(ctx, st, stageIndex[st.Name], runner, results, &mu, persist, mode); err != nil {
				if ctx.Err() != nil {
					return c.finish(cp, plan, results, &mu), ctx.Err()
				}
				if !c.cfg.ContinueOnFailure {
					aborted = true
					break
				}
			}
		}
	}

	if aborted {
		c.skipUnreachable(plan, results, &mu, persist)
	}

	return c.finish(cp, plan, results, &mu), nil
}

// wavePending resolves conditions for a wave and returns the stages that
// will actually run. False conditions and failed dependencies mark stages
// skipped.
func (c *Controller) wavePending(wave Wave, results map[string]*StageState) []profile.Stage {
	var pending []profile.Stage
	for _, st := range wave.Stages() {
		state := results[st.Name]
		if state.Status == StatusCompleted {
			continue
		}
		if state.Status == StatusSkipped {
			// Resume path: re-evaluate the condition.
			if !EvalCondition(st.Condition, results) {
				continue
			}
			state.Status = StatusPending
		}
		if depUnsatisfied(st, results) {
			state.Status = StatusSkipped
			c.logger.Debug().Str("stage", st.Name).Msg("stage skipped, dependency did not complete")
			continue
		}
		if !EvalCondition(st.Condition, results) {
			state.Status = StatusSkipped
			c.logger.Debug().Str("stage", st.Name).Str("condition", st.Condition).Msg("stage skipped")
			continue
		}
		pending = append(pending, st)
	}
	return pending
}

// depUnsatisfied reports whether a dependency ended failed or skipped.
func depUnsatisfied(st profile.Stage, results map[string]*StageState) bool {
	for _, dep := range st.Dependencies {
		if state := results[dep]; state != nil {
			switch state.Status {
			case StatusFailed, StatusSkipped:
				return true
			}
		}
	}
	return false
}

// skipUnreachable marks pending stages whose outcome is already decided:
// a dependency failed or was skipped, or their condition references a
// terminal stage and evaluates false. Stages that merely never got their
// turn stay pending so a resume can run them.
func (c *Controller) skipUnreachable(plan *Plan, results map[string]*StageState, mu *sync.Mutex, persist func()) {
	mu.Lock()
	defer mu.Unlock()
	for _, st := range plan.Topo {
		state := results[st.Name]
		if state.Status != StatusPending {
			continue
		}
		if depUnsatisfied(st, results) || conditionDecidedFalse(st.Condition, results) {
			state.Status = StatusSkipped
			c.logger.Debug().Str("stage", st.Name).Msg("stage skipped, unreachable after failure")
		}
	}
	persist()
}

// conditionDecidedFalse reports whether a condition references a terminal
// stage and already evaluates false.
func conditionDecidedFalse(condition string, results map[string]*StageState) bool {
	if condition == "" {
		return false
	}
	name, _, ok := strings.Cut(condition, ".")
	if !ok {
		return true
	}
	ref := results[name]
	if ref == nil {
		return true
	}
	switch ref.Status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return !EvalCondition(condition, results)
	default:
		return false
	}
}

// runStage executes one stage with retries, timeout, and progress events.
func (c *Controller) runStage(ctx context.Context, st profile.Stage, index int, runner Runner,
	results map[string]*StageState, mu *sync.Mutex, persist func(), mode Mode) error {

	state := results[st.Name]

	start := time.Now().UTC()
	mu.Lock()
	state.Status = StatusRunning
	state.StartedAt = &start
	persist()
	priorCopy := snapshot(results)
	mu.Unlock()

	c.publish(progress.Event{Kind: progress.KindStageStart, StageIndex: index, StageName: st.Name})

	timeout := st.Timeout
	if timeout <= 0 {
		timeout = c.cfg.StageTimeout
	}
	maxRetries := st.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.StageMaxRetries
	}
	retryDelay := st.RetryDelay
	if retryDelay <= 0 {
		retryDelay = c.cfg.StageRetryDelay
	}

	var output *StageOutput
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Str("stage", st.Name).Int("attempt", attempt).Msg("retrying stage")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}

		output, err = c.attempt(ctx, st, index, timeout, runner, priorCopy)
		if err == nil {
			break
		}
	}

	end := time.Now().UTC()
	mu.Lock()
	defer mu.Unlock()
	state.EndedAt = &end
	state.DurationMs = end.Sub(start).Milliseconds()

	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		persist()
		c.publish(progress.Event{Kind: progress.KindStageError, StageIndex: index,
			StageName: st.Name, Message: err.Error()})
		c.logger.Warn().Err(err).Str("stage", st.Name).Msg("stage failed")
		return errs.Wrap(errs.CodeStageFailed, "stage "+st.Name+" failed", err)
	}

	state.Status = StatusCompleted
	state.Output = output.Output
	state.TokensUsed = output.TokensUsed
	state.Model = output.Model
	persist()
	c.publish(progress.Event{Kind: progress.KindStageComplete, StageIndex: index, StageName: st.Name})
	c.logger.Info().Str("stage", st.Name).Dur("duration", end.Sub(start)).Msg("stage complete")
	return nil
}

// attempt runs one bounded attempt with synthetic progress.
func (c *Controller) attempt(ctx context.Context, st profile.Stage, index int,
	timeout time.Duration, runner Runner, prior map[string]*StageState) (*StageOutput, error) {

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Synthetic progress while the backend is silent.
	progressDone := make(chan struct{})
	go func() {
		est := progress.NewEstimator(timeout / 3)
		ticker := time.NewTicker(c.cfg.ProgressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				c.publish(progress.Event{Kind: progress.KindStageProgress,
					StageIndex: index, StageName: st.Name, Percentage: est.Percent()})
			}
		}
	}()
	defer close(progressDone)

	out, err := runner.RunStage(attemptCtx, st, prior)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.CodeProviderTimeout, "stage "+st.Name+" timed out", err)
		}
		return nil, err
	}
	return out, nil
}

// snapshot deep-copies the result map so parallel workers read a stable
// view of prior stages.
func snapshot(results map[string]*StageState) map[string]*StageState {
	out := make(map[string]*StageState, len(results))
	for k, v := range results {
		cp := *v
		out[k] = &cp
	}
	return out
}

// finish composes the run result: output of the last completed non-skipped
// stage in topological order; success iff every non-skipped stage
// completed.
func (c *Controller) finish(cp *Checkpoint, plan *Plan, results map[string]*StageState, mu *sync.Mutex) *RunResult {
	mu.Lock()
	defer mu.Unlock()

	res := &RunResult{RunID: cp.RunID, Success: true, Checkpoint: cp}
	for _, st := range plan.Topo {
		state := results[st.Name]
		switch state.Status {
		case StatusCompleted:
			res.Output = state.Output
		case StatusSkipped:
			// Skipped stages do not affect success.
		default:
			res.Success = false
		}
	}
	return res
}

func (c *Controller) publish(ev progress.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
