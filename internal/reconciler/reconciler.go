// Package reconciler keeps the client's view of the wallet service session
// consistent. Two input streams feed it: a session poll on a fixed interval
// and coinjoin state pushes from the websocket channel. Both are serialized
// through one actor, which derives whether the maker or a taker coinjoin is
// running, whether the push channel is up, and the last connection error.
//
// The held wallet is dropped whenever the backend reports a different active
// wallet, or none, so stale credentials are never used.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
	"github.com/abhiShandy/joinmarket-webui/internal/websocket"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
)

// DefaultPollInterval is how often the session endpoint is polled.
const DefaultPollInterval = 10 * time.Second

// Config tunes a Reconciler.
type Config struct {
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Codes defaults to DefaultStateCodes when left zero.
	Codes StateCodes
}

// PushChannel is the push connection the reconciler listens to and
// authenticates. *websocket.Client satisfies it.
type PushChannel interface {
	Authenticate(token string)
	Subscribe(h websocket.MessageHandler) (unsubscribe func())
	OnStateChange(h websocket.StateHandler) (unsubscribe func())
	IsConnected() bool
}

// Deps are the collaborators of a Reconciler. Only Sessions is required.
type Deps struct {
	Sessions SessionFetcher
	Push     PushChannel
	Store    SessionStore
}

// Reconciler is the public handle on the session actor.
type Reconciler struct {
	actor *actor.Actor[State]
	deps  Deps

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	unsubs    []func()
}

// New validates cfg and wires the actor. Call Start to begin polling.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	if deps.Sessions == nil {
		return nil, errors.New("reconciler: missing session fetcher")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Codes == (StateCodes{}) {
		cfg.Codes = DefaultStateCodes
	}
	if cfg.Codes.Taker == cfg.Codes.Maker {
		return nil, fmt.Errorf("reconciler: taker and maker state codes must differ (both %d)", cfg.Codes.Taker)
	}

	var push pushAuthenticator
	if deps.Push != nil {
		push = deps.Push
	}
	rt := newRuntime(deps.Sessions, push, deps.Store, cfg.PollInterval)

	hooks := actor.Hooks[State]{
		OnInput: func(in actor.Input) {
			if logger.Enabled(logger.LevelTrace) {
				logger.Tracef("reconciler: input %T", in)
			}
		},
	}
	a := actor.New(State{Codes: cfg.Codes}, Reduce, rt, actor.WithHooks(hooks))
	return &Reconciler{actor: a, deps: deps}, nil
}

// Start restores the stored session, attaches to the push channel and starts
// the poll cycle. The reconciler stops when ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() {
		err = r.start(ctx)
	})
	return err
}

func (r *Reconciler) start(ctx context.Context) error {
	var restored *WalletSession
	if r.deps.Store != nil {
		name, token, ok, err := r.deps.Store.LoadSession(ctx)
		if err != nil {
			return fmt.Errorf("failed to load stored session: %w", err)
		}
		if ok && name != "" && token != "" {
			restored = &WalletSession{Name: name, Token: token}
		}
	}

	r.actor.Start()

	if push := r.deps.Push; push != nil {
		r.mu.Lock()
		r.unsubs = append(r.unsubs,
			push.Subscribe(func(payload []byte) {
				_ = r.actor.Send(ctx, evPushMessage{Payload: payload})
			}),
			push.OnStateChange(func(connected bool, reason string) {
				if !connected && reason != "" {
					logger.Debugf("reconciler: push channel disconnected: %s", reason)
				}
				_ = r.actor.Send(ctx, evPushConnection{Connected: connected, Reason: reason})
			}),
		)
		r.mu.Unlock()
		if err := r.actor.Send(ctx, evPushConnection{Connected: push.IsConnected()}); err != nil {
			return err
		}
	}

	if err := r.actor.Send(ctx, cmdStart{Restored: restored}); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.actor.Done():
		}
	}()
	return nil
}

// Stop detaches from the push channel, cancels any in-flight poll and waits
// for the actor to exit. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		unsubs := r.unsubs
		r.unsubs = nil
		r.mu.Unlock()
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
		r.actor.Stop()
		<-r.actor.Done()
	})
}

// Done is closed once the reconciler has stopped.
func (r *Reconciler) Done() <-chan struct{} { return r.actor.Done() }

// SetWallet makes name the held wallet, persists it and restarts polling.
func (r *Reconciler) SetWallet(ctx context.Context, name, token string) error {
	name = strings.TrimSpace(name)
	if name == "" || token == "" {
		return errors.New("wallet name and token are required")
	}
	return r.actor.Send(ctx, cmdSetWallet{Wallet: &WalletSession{Name: name, Token: token}})
}

// ClearWallet drops the held wallet and its stored session.
func (r *Reconciler) ClearWallet(ctx context.Context) error {
	return r.actor.Send(ctx, cmdSetWallet{})
}

// MarkMakerStarting records an accepted maker start until the backend
// reports the maker running.
func (r *Reconciler) MarkMakerStarting(ctx context.Context) error {
	return r.actor.Send(ctx, cmdMarkMaker{Transition: MakerStarting})
}

// MarkMakerStopping records an accepted maker stop until the backend reports
// the maker stopped.
func (r *Reconciler) MarkMakerStopping(ctx context.Context) error {
	return r.actor.Send(ctx, cmdMarkMaker{Transition: MakerStopping})
}

// Refresh polls now without waiting for the next tick.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.actor.Send(ctx, cmdRefresh{})
}

// State returns the current state, token included.
func (r *Reconciler) State() State { return r.actor.State() }

// Status returns the current projection.
func (r *Reconciler) Status() Status { return r.actor.State().Status() }

// Wallet returns the held wallet, if any.
func (r *Reconciler) Wallet() (WalletSession, bool) {
	st := r.actor.State()
	if st.Wallet == nil {
		return WalletSession{}, false
	}
	return *st.Wallet, true
}

// Subscribe calls fn with every status change, in order, on the actor
// goroutine. fn must not block or call back into the reconciler
// synchronously.
func (r *Reconciler) Subscribe(fn func(prev, next Status)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return r.actor.Subscribe(func(prev, next State, _ actor.Input) {
		ps, ns := prev.Status(), next.Status()
		if ps != ns {
			fn(ps, ns)
		}
	})
}

// WaitFor blocks until pred holds for the current status, ctx is done or the
// reconciler stops.
func (r *Reconciler) WaitFor(ctx context.Context, pred func(Status) bool) (Status, error) {
	matched := make(chan Status, 1)
	unsubscribe := r.Subscribe(func(_, next Status) {
		if pred(next) {
			select {
			case matched <- next:
			default:
			}
		}
	})
	defer unsubscribe()

	if st := r.Status(); pred(st) {
		return st, nil
	}
	select {
	case st := <-matched:
		return st, nil
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	case <-r.actor.Done():
		return r.Status(), actor.ErrStopped
	}
}
