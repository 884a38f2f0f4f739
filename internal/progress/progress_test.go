package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestCriticalEventsDeliverImmediately(t *testing.T) {
	b := NewBus(time.Hour, zerolog.Nop())
	rec := &recorder{}
	b.Subscribe(rec.listen)

	b.Publish(Event{Kind: KindStageStart, StageName: "plan"})
	b.Publish(Event{Kind: KindStageComplete, StageName: "plan"})
	b.Publish(Event{Kind: KindStageError, StageName: "impl"})

	assert.Equal(t, 3, rec.count())
}

func TestThrottleCoalescesProgress(t *testing.T) {
	b := NewBus(50*time.Millisecond, zerolog.Nop())
	rec := &recorder{}
	b.Subscribe(rec.listen)

	// First event in a quiet period is immediate.
	b.Publish(Event{Kind: KindStageProgress, StageName: "impl", Percentage: 10})
	assert.Equal(t, 1, rec.count())

	// Burst within the window coalesces; latest wins.
	b.Publish(Event{Kind: KindStageProgress, StageName: "impl", Percentage: 20})
	b.Publish(Event{Kind: KindStageProgress, StageName: "impl", Percentage: 30})
	b.Publish(Event{Kind: KindStageProgress, StageName: "impl", Percentage: 40})

	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, 40.0, last.Percentage)
	assert.Less(t, rec.count(), 4)
}

func TestMultipleSubscribers(t *testing.T) {
	b := NewBus(time.Millisecond, zerolog.Nop())
	a, c := &recorder{}, &recorder{}
	b.Subscribe(a.listen)
	unsub := b.Subscribe(c.listen)

	b.Publish(Event{Kind: KindStageStart, StageName: "s"})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, c.count())

	unsub()
	b.Publish(Event{Kind: KindStageComplete, StageName: "s"})
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, c.count())
}

func TestListenerPanicIsolated(t *testing.T) {
	b := NewBus(time.Millisecond, zerolog.Nop())
	rec := &recorder{}
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(rec.listen)

	b.Publish(Event{Kind: KindStageStart, StageName: "s"})
	assert.Equal(t, 1, rec.count())
}

func TestClearDropsPending(t *testing.T) {
	b := NewBus(50*time.Millisecond, zerolog.Nop())
	rec := &recorder{}
	b.Subscribe(rec.listen)

	b.Publish(Event{Kind: KindStageProgress, StageName: "s", Percentage: 10})
	b.Publish(Event{Kind: KindStageProgress, StageName: "s", Percentage: 20})
	before := rec.count()

	b.Clear()
	time.Sleep(120 * time.Millisecond)

	// The queued event was dropped and the listener removed.
	assert.Equal(t, before, rec.count())
	b.Publish(Event{Kind: KindStageStart, StageName: "s"})
	assert.Equal(t, before, rec.count())
}

func TestEstimatorMonotonicCapped(t *testing.T) {
	e := NewEstimator(10 * time.Millisecond)

	first := e.Percent()
	time.Sleep(30 * time.Millisecond)
	second := e.Percent()

	assert.GreaterOrEqual(t, second, first)
	assert.LessOrEqual(t, second, 99.0)
	assert.Greater(t, second, 80.0)
}
