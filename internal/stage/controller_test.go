package stage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/profile"
	"automatosx/internal/progress"
)

// scriptRunner runs stages via a per-stage function map.
type scriptRunner struct {
	mu    sync.Mutex
	runs  []string
	funcs map[string]func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error)
}

func (r *scriptRunner) RunStage(ctx context.Context, st profile.Stage, prior map[string]*StageState) (*StageOutput, error) {
	r.mu.Lock()
	r.runs = append(r.runs, st.Name)
	r.mu.Unlock()
	if fn, ok := r.funcs[st.Name]; ok {
		return fn(ctx, prior)
	}
	return &StageOutput{Output: st.Name + " output"}, nil
}

func (r *scriptRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	store := NewCheckpointStore(t.TempDir())
	c := NewController(store, nil, cfg, zerolog.Nop())
	c.SetConfirmer(AutoConfirm)
	return c
}

func TestRunAllStagesSucceed(t *testing.T) {
	c := newTestController(t, Config{})
	runner := &scriptRunner{}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
		st("review", false, "impl"),
	}

	res, err := c.Run(context.Background(), "backend", "build it", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "review output", res.Output)
	assert.Equal(t, []string{"plan", "impl", "review"}, runner.ran())
}

func TestRunParallelWave(t *testing.T) {
	c := newTestController(t, Config{})

	var inFlight, peak atomic.Int32
	slow := func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &StageOutput{Output: "ok"}, nil
	}
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"api": slow, "ui": slow,
	}}

	stages := []profile.Stage{
		st("plan", false),
		st("api", true, "plan"),
		st("ui", true, "plan"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), peak.Load())
}

func TestStageFailureAbortsByDefault(t *testing.T) {
	c := newTestController(t, Config{})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"impl": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			return nil, errors.New("compile error")
		},
	}}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
		st("review", false, "impl"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotContains(t, runner.ran(), "review")

	implState := res.Checkpoint.StageByName("impl")
	assert.Equal(t, StatusFailed, implState.Status)
	assert.Contains(t, implState.Error, "compile error")
	// review depends on the failed stage and can never run.
	assert.Equal(t, StatusSkipped, res.Checkpoint.StageByName("review").Status)
}

func TestAbortSkipsUnreachableStages(t *testing.T) {
	c := newTestController(t, Config{})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"impl": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			return nil, errors.New("compile error")
		},
	}}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
		{Name: "test", Dependencies: []string{"impl"}, Condition: "impl.success"},
		st("docs", false, "plan"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, StatusCompleted, res.Checkpoint.StageByName("plan").Status)
	assert.Equal(t, StatusFailed, res.Checkpoint.StageByName("impl").Status)
	assert.Equal(t, StatusSkipped, res.Checkpoint.StageByName("test").Status)
	// docs did not depend on the failure; it stays pending for resume.
	assert.Equal(t, StatusPending, res.Checkpoint.StageByName("docs").Status)
}

func TestContinueOnFailureKeepsParallelSiblings(t *testing.T) {
	c := newTestController(t, Config{ContinueOnFailure: true})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"flaky": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			return nil, errors.New("boom")
		},
		"steady": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return &StageOutput{Output: "steady output"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}}

	stages := []profile.Stage{
		st("flaky", true),
		st("steady", true),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	// The failing sibling must not cancel the in-flight one.
	assert.Equal(t, StatusCompleted, res.Checkpoint.StageByName("steady").Status)
	assert.Equal(t, "steady output", res.Output)
}

func TestContinueOnFailure(t *testing.T) {
	c := newTestController(t, Config{ContinueOnFailure: true})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"impl": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			return nil, errors.New("boom")
		},
	}}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
		st("docs", false, "plan"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, runner.ran(), "docs")
}

func TestConditionSkips(t *testing.T) {
	c := newTestController(t, Config{ContinueOnFailure: true})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"impl": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			return nil, errors.New("boom")
		},
	}}

	stages := []profile.Stage{
		st("impl", false),
		{Name: "celebrate", Dependencies: []string{"impl"}, Condition: "impl.success"},
		{Name: "rollback", Dependencies: []string{"impl"}, Condition: "impl.failure"},
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Checkpoint.StageByName("celebrate").Status)
	assert.Equal(t, StatusCompleted, res.Checkpoint.StageByName("rollback").Status)
	// Success: the failed stage fails the run, the skipped stage does not.
	assert.False(t, res.Success)
	assert.Equal(t, "rollback output", res.Output)
}

func TestStageRetries(t *testing.T) {
	c := newTestController(t, Config{StageRetryDelay: time.Millisecond})

	var attempts atomic.Int32
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"flaky": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return &StageOutput{Output: "finally"}, nil
		},
	}}

	stages := []profile.Stage{{Name: "flaky", MaxRetries: 3, RetryDelay: time.Millisecond}}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestStageTimeout(t *testing.T) {
	c := newTestController(t, Config{StageRetryDelay: time.Millisecond})
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"slow": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}

	stages := []profile.Stage{{Name: "slow", Timeout: 30 * time.Millisecond}}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Checkpoint.StageByName("slow").Error, "timed out")
}

func TestCheckpointWrittenAndResumed(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir)
	c := NewController(store, nil, Config{StageRetryDelay: time.Millisecond}, zerolog.Nop())
	c.SetConfirmer(AutoConfirm)

	fail := true
	runner := &scriptRunner{funcs: map[string]func(context.Context, map[string]*StageState) (*StageOutput, error){
		"impl": func(ctx context.Context, prior map[string]*StageState) (*StageOutput, error) {
			if fail {
				return nil, errors.New("first run fails")
			}
			// Resume sees the completed plan stage.
			require.Equal(t, StatusCompleted, prior["plan"].Status)
			return &StageOutput{Output: "impl done"}, nil
		},
	}}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{Resumable: true})
	require.NoError(t, err)
	require.False(t, res.Success)

	// The checkpoint is on disk.
	cp, err := store.Load(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cp.StageByName("plan").Status)
	assert.Equal(t, StatusFailed, cp.StageByName("impl").Status)

	fail = false
	resumed, err := c.Resume(context.Background(), res.RunID, stages, runner, Mode{})
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, "impl done", resumed.Output)

	// plan ran once across both runs.
	count := 0
	for _, name := range runner.ran() {
		if name == "plan" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestResumeMissingCheckpoint(t *testing.T) {
	c := newTestController(t, Config{})
	_, err := c.Resume(context.Background(), "ghost", []profile.Stage{st("a", false)}, &scriptRunner{}, Mode{})
	require.Error(t, err)
}

func TestInteractiveConfirmerAborts(t *testing.T) {
	c := newTestController(t, Config{})
	calls := 0
	c.SetConfirmer(func(ctx context.Context, waveIndex int, stages []string) (bool, error) {
		calls++
		return calls == 1, nil // allow the first wave, abort the second
	})
	runner := &scriptRunner{}

	stages := []profile.Stage{
		st("plan", false),
		st("impl", false, "plan"),
	}

	res, err := c.Run(context.Background(), "backend", "t", stages, nil, runner, Mode{Interactive: true})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"plan"}, runner.ran())
}

func TestProgressEventsEmitted(t *testing.T) {
	bus := progress.NewBus(time.Millisecond, zerolog.Nop())
	var mu sync.Mutex
	var kinds []progress.Kind
	bus.Subscribe(func(ev progress.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	store := NewCheckpointStore(t.TempDir())
	c := NewController(store, bus, Config{}, zerolog.Nop())
	c.SetConfirmer(AutoConfirm)

	_, err := c.Run(context.Background(), "backend", "t",
		[]profile.Stage{st("only", false)}, nil, &scriptRunner{}, Mode{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, progress.KindStageStart)
	assert.Contains(t, kinds, progress.KindStageComplete)
}
