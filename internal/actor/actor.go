// Package actor implements the mailbox loop that owns reconciler state.
//
// One goroutine dequeues inputs, folds them through a pure reducer and hands
// the resulting effects to a Runtime. Runtimes perform I/O and report back
// by enqueueing new inputs; they never touch state directly. Observers attach
// through Subscribe and always see transitions in mailbox order.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is an item delivered to an actor mailbox: either an observation from
// the runtime (event) or a request from a caller (command).
type Input interface {
	isActorInput()
}

// Effect is a side-effect requested by a reducer, expressed as data.
type Effect interface {
	isActorEffect()
}

// ReducerFunc computes the next state for an input. It must not perform I/O,
// start goroutines or read clocks; timestamps travel inside inputs.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime executes effects and feeds results back through emit.
type Runtime interface {
	// HandleEffects must return quickly. Blocking work belongs in a goroutine
	// that stops emitting once ctx is done.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called more than once.
	Stop()
}

// TransitionFunc observes a state change caused by input.
type TransitionFunc[S any] func(prev S, next S, input Input)

// Hooks are optional callbacks run on the actor goroutine.
type Hooks[S any] struct {
	// OnInput runs after an input is dequeued and before it is reduced.
	OnInput func(input Input)
	// OnEffects runs before effects are handed to the Runtime.
	OnEffects func(effects []Effect)
}

// ErrStopped is returned when sending to an actor that has been stopped.
var ErrStopped = errors.New("actor stopped")

const defaultMailboxSize = 128

// Actor owns a value of type S and serializes every mutation of it.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once

	mu     sync.RWMutex
	state  S
	nextID uint64
	subs   map[uint64]TransitionFunc[S]
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize overrides the mailbox capacity. Non-positive values keep
// the default.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New returns an actor that has not been started yet.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, defaultMailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		subs:    make(map[uint64]TransitionFunc[S]),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop. Later calls are no-ops.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the loop context and stops the runtime. Safe to call more
// than once, and before Start.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
	a.start.Do(func() { close(a.done) })
}

// Done is closed once the loop has exited.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue offers input to the mailbox without blocking. It reports false when
// the actor is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil || a.ctx.Err() != nil {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// Send delivers input, blocking until there is mailbox space, ctx is done or
// the actor stops.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the current state.
func (a *Actor[S]) State() S {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe registers fn for every processed input, including ones that leave
// state unchanged. fn runs on the actor goroutine and must not block. The
// returned function removes the subscription; calling it twice is harmless.
func (a *Actor[S]) Subscribe(fn TransitionFunc[S]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.subs[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

func (a *Actor[S]) subscribers() []TransitionFunc[S] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]TransitionFunc[S], 0, len(a.subs))
	for _, fn := range a.subs {
		out = append(out, fn)
	}
	return out
}

func (a *Actor[S]) loop() {
	defer close(a.done)

	emit := func(in Input) {
		if err := a.Send(a.ctx, in); err != nil {
			return
		}
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			a.step(in, emit)
		}
	}
}

func (a *Actor[S]) step(in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	prev := a.State()
	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	for _, fn := range a.subscribers() {
		fn(prev, next, in)
	}

	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
