// Package actortest holds test doubles for the actor package.
package actortest

import (
	"context"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
)

// FakeRuntime records effects instead of executing them. EmitFn, when set,
// is called once per effect so tests can script runtime replies.
type FakeRuntime struct {
	mu      sync.Mutex
	effects []actor.Effect
	stopped int

	EmitFn func(ctx context.Context, eff actor.Effect, emit func(actor.Input))
}

var _ actor.Runtime = (*FakeRuntime)(nil)

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	emitFn := r.EmitFn
	r.mu.Unlock()

	if emitFn == nil {
		return
	}
	for _, eff := range effects {
		emitFn(ctx, eff, emit)
	}
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

// Stopped reports how many times Stop was called.
func (r *FakeRuntime) Stopped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Effects returns a copy of the recorded effects.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]actor.Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// WaitForEffects polls until at least n effects were recorded or timeout
// elapses, and returns what was recorded.
func (r *FakeRuntime) WaitForEffects(n int, timeout time.Duration) []actor.Effect {
	deadline := time.Now().Add(timeout)
	for {
		effects := r.Effects()
		if len(effects) >= n || time.Now().After(deadline) {
			return effects
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Reset drops recorded effects.
func (r *FakeRuntime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = nil
}
