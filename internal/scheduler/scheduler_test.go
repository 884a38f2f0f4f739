package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRunsJobsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	s := New(zerolog.Nop(), []Job{{
		Name: "tick",
		Run: func(ctx context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		},
	}})

	// Seconds-resolution schedule so the test observes a run quickly.
	require.NoError(t, s.Start("* * * * * *"))
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartNormalizesFiveFieldSchedule(t *testing.T) {
	s := New(zerolog.Nop(), []Job{{
		Name: "noop",
		Run:  func(ctx context.Context) (int, error) { return 0, nil },
	}})

	require.NoError(t, s.Start("0 3 * * *"))
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop(), []Job{{
		Name: "noop",
		Run:  func(ctx context.Context) (int, error) { return 0, nil },
	}})

	err := s.Start("not a schedule")
	require.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	require.NoError(t, s.Start("0 3 * * *"))
	defer s.Stop()

	assert.Error(t, s.Start("0 3 * * *"))
}

func TestOverlappingRunsSkipped(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	s := New(zerolog.Nop(), []Job{{
		Name: "slow",
		Run: func(ctx context.Context) (int, error) {
			started.Add(1)
			<-release
			return 0, nil
		},
	}})

	require.NoError(t, s.Start("* * * * * *"))

	deadline := time.After(3 * time.Second)
	for started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give the scheduler a chance to fire again while the first run is
	// still blocked; the overlap guard must drop it.
	time.Sleep(1100 * time.Millisecond)
	assert.EqualValues(t, 1, started.Load())

	close(release)
	s.Stop()
}

func TestRunAllAggregatesResults(t *testing.T) {
	boom := errors.New("boom")
	s := New(zerolog.Nop(), []Job{
		{Name: "ok", Run: func(ctx context.Context) (int, error) { return 3, nil }},
		{Name: "bad", Run: func(ctx context.Context) (int, error) { return 0, boom }},
	})

	results := s.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, 3, results["ok"].Removed)
	assert.NoError(t, results["ok"].Err)
	assert.ErrorIs(t, results["bad"].Err, boom)
}

func TestStopWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	var started, finished atomic.Bool
	s := New(zerolog.Nop(), []Job{{
		Name: "slow",
		Run: func(ctx context.Context) (int, error) {
			started.Store(true)
			<-release
			finished.Store(true)
			return 0, nil
		},
	}})

	require.NoError(t, s.Start("* * * * * *"))
	deadline := time.After(3 * time.Second)
	for !started.Load() {
		select {
		case <-deadline:
			t.Fatal("job never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	s.Stop()
	assert.True(t, finished.Load())
}
