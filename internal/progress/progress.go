// Package progress implements a single-producer, multi-subscriber event
// bus with throttling for high-frequency events.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind tags a progress event.
type Kind string

const (
	KindStageStart    Kind = "stage-start"
	KindStageProgress Kind = "stage-progress"
	KindStageComplete Kind = "stage-complete"
	KindStageError    Kind = "stage-error"
	KindTokenStream   Kind = "token-stream"
	KindCheckpoint    Kind = "checkpoint"
	KindUserPrompt    Kind = "user-prompt"
)

// critical events bypass throttling.
func (k Kind) critical() bool {
	switch k {
	case KindStageStart, KindStageComplete, KindStageError, KindCheckpoint, KindUserPrompt:
		return true
	}
	return false
}

// Event is one progress update.
type Event struct {
	Kind       Kind      `json:"kind"`
	StageIndex int       `json:"stage_index,omitempty"`
	StageName  string    `json:"stage_name,omitempty"`
	Percentage float64   `json:"percentage,omitempty"`
	Message    string    `json:"message,omitempty"`
	Token      string    `json:"token,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener receives events. Listeners must not block for long; a panicking
// listener is isolated from the others.
type Listener func(Event)

// Bus delivers critical events immediately and throttles the rest: the
// first event in a quiet period goes out at once, later events within the
// throttle window coalesce per stage (latest wins) and drain one per tick.
type Bus struct {
	throttle time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	lastSent  time.Time
	pending   map[string]Event // stage name -> latest coalesced event
	order     []string
	timer     *time.Timer
}

// NewBus creates a bus with the given throttle window (default 100ms).
func NewBus(throttle time.Duration, logger zerolog.Logger) *Bus {
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	return &Bus{
		throttle:  throttle,
		logger:    logger,
		listeners: make(map[int]Listener),
		pending:   make(map[string]Event),
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers an event, throttling non-critical kinds.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if ev.Kind.critical() {
		b.deliver(ev)
		return
	}

	b.mu.Lock()
	now := time.Now()
	if now.Sub(b.lastSent) >= b.throttle && len(b.pending) == 0 {
		b.lastSent = now
		b.mu.Unlock()
		b.deliver(ev)
		return
	}

	key := ev.StageName
	if _, seen := b.pending[key]; !seen {
		b.order = append(b.order, key)
	}
	b.pending[key] = ev
	if b.timer == nil {
		wait := b.throttle - now.Sub(b.lastSent)
		if wait < 0 {
			wait = 0
		}
		b.timer = time.AfterFunc(wait, b.drain)
	}
	b.mu.Unlock()
}

// drain sends one pending event per throttle tick.
func (b *Bus) drain() {
	b.mu.Lock()
	b.timer = nil
	if len(b.order) == 0 {
		b.mu.Unlock()
		return
	}

	key := b.order[0]
	b.order = b.order[1:]
	ev, ok := b.pending[key]
	delete(b.pending, key)

	if len(b.order) > 0 {
		b.timer = time.AfterFunc(b.throttle, b.drain)
	}
	b.lastSent = time.Now()
	b.mu.Unlock()

	if ok {
		b.deliver(ev)
	}
}

// deliver fans the event out to all listeners, isolating panics.
func (b *Bus) deliver(ev Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn().Interface("panic", r).Msg("progress listener panicked")
				}
			}()
			l(ev)
		}()
	}
}

// Clear drops all listeners and the pending queue. Pending events are
// never delivered after Clear.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[int]Listener)
	b.pending = make(map[string]Event)
	b.order = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
