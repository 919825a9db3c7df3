package reconciler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const (
	storeTimeout   = 5 * time.Second
	storeQueueSize = 16
)

// SessionFetcher reads the backend session status.
type SessionFetcher interface {
	Session(ctx context.Context) (*jmapi.SessionInfo, error)
}

// SessionStore persists the held wallet across restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, name, token string) error
	// LoadSession reports ok=false when nothing is stored.
	LoadSession(ctx context.Context) (name, token string, ok bool, err error)
	// ClearSession removes the stored session if it belongs to name, or
	// unconditionally when name is empty.
	ClearSession(ctx context.Context, name string) error
}

// pushAuthenticator is the part of the push channel the runtime drives.
type pushAuthenticator interface {
	Authenticate(token string)
}

// runtime interprets reconciler effects. It owns the poll cycle goroutine.
type runtime struct {
	sessions SessionFetcher
	push     pushAuthenticator
	store    SessionStore
	interval time.Duration

	polls singleflight.Group

	// Store operations run one at a time on a worker, in effect order.
	storeOps  chan func(context.Context)
	storeQuit chan struct{}

	mu       sync.Mutex
	cycleCtx context.Context
	cycleGen uint64
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

var _ actor.Runtime = (*runtime)(nil)

func newRuntime(sessions SessionFetcher, push pushAuthenticator, store SessionStore, interval time.Duration) *runtime {
	r := &runtime{
		sessions:  sessions,
		push:      push,
		store:     store,
		interval:  interval,
		storeOps:  make(chan func(context.Context), storeQueueSize),
		storeQuit: make(chan struct{}),
	}
	if store != nil {
		r.spawn(r.runStore)
	}
	return r
}

// HandleEffects implements actor.Runtime.
func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effRestartPolling:
			r.restartPolling(ctx, e.Gen, emit)
		case effPollOnce:
			r.pollOnce(e.Gen, emit)
		case effPersistSession:
			w := e.Wallet
			r.enqueueStore(func(ctx context.Context) { r.persist(ctx, w) })
		case effClearSession:
			name := e.Name
			r.enqueueStore(func(ctx context.Context) { r.clear(ctx, name) })
		case effRestoreSession:
			gen, name := e.Gen, e.Name
			r.enqueueStore(func(ctx context.Context) { r.restore(ctx, gen, name, emit) })
		case effAuthenticatePush:
			if r.push != nil {
				r.push.Authenticate(e.Token)
			}
		default:
			logger.Warnf("reconciler: unhandled effect %T", eff)
		}
	}
}

// Stop cancels the poll cycle and waits for its goroutines.
func (r *runtime) Stop() {
	r.mu.Lock()
	if !r.stopped {
		close(r.storeQuit)
	}
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.cycleCtx = nil
	r.mu.Unlock()
	r.wg.Wait()
}

// spawn runs fn on a tracked goroutine unless the runtime is stopped.
func (r *runtime) spawn(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// restartPolling cancels the current cycle, including its in-flight request,
// and starts a new one that polls now and then on every tick. A tick that
// fires while a poll is still running is skipped.
func (r *runtime) restartPolling(parent context.Context, gen uint64, emit func(actor.Input)) {
	if parent.Err() != nil {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	cycleCtx, cancel := context.WithCancel(parent)
	r.cycleCtx = cycleCtx
	r.cycleGen = gen
	r.cancel = cancel
	r.mu.Unlock()

	logger.Debugf("reconciler: poll cycle %d started", gen)

	r.spawn(func() {
		r.poll(cycleCtx, gen, emit)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-cycleCtx.Done():
				return
			case <-ticker.C:
				r.poll(cycleCtx, gen, emit)
			}
		}
	})
}

func (r *runtime) pollOnce(gen uint64, emit func(actor.Input)) {
	r.mu.Lock()
	cycleCtx, current := r.cycleCtx, r.cycleGen
	r.mu.Unlock()
	if cycleCtx == nil || current != gen {
		return
	}
	r.spawn(func() { r.poll(cycleCtx, gen, emit) })
}

// poll runs one session request. Requests of the same generation share a
// single flight. A cancelled request reports nothing.
func (r *runtime) poll(ctx context.Context, gen uint64, emit func(actor.Input)) {
	v, err, _ := r.polls.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return r.sessions.Session(ctx)
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		if info, ok := v.(*jmapi.SessionInfo); ok && info != nil {
			logger.Tracef("reconciler: poll %d ok: %+v", gen, *info)
			emit(evPollSucceeded{Gen: gen, Info: *info})
			return
		}
		err = errors.New("empty session response")
	}
	logger.Debugf("reconciler: poll %d failed: %v", gen, err)
	emit(evPollFailed{Gen: gen, Err: err.Error()})
}

// enqueueStore hands op to the store worker. It blocks only while the queue
// is full.
func (r *runtime) enqueueStore(op func(context.Context)) {
	if r.store == nil {
		return
	}
	select {
	case r.storeOps <- op:
	case <-r.storeQuit:
	}
}

// runStore applies store operations until Stop, then drains what is queued.
func (r *runtime) runStore() {
	for {
		select {
		case op := <-r.storeOps:
			r.applyStore(op)
		case <-r.storeQuit:
			for {
				select {
				case op := <-r.storeOps:
					r.applyStore(op)
				default:
					return
				}
			}
		}
	}
}

func (r *runtime) applyStore(op func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	op(ctx)
}

func (r *runtime) persist(ctx context.Context, w WalletSession) {
	if err := r.store.SaveSession(ctx, w.Name, w.Token); err != nil {
		logger.Warnf("reconciler: failed to persist session for %s: %v", w.Name, err)
	}
}

func (r *runtime) clear(ctx context.Context, name string) {
	if err := r.store.ClearSession(ctx, name); err != nil {
		logger.Warnf("reconciler: failed to clear session: %v", err)
	}
}

// restore re-adopts the stored session when it names the active wallet.
func (r *runtime) restore(ctx context.Context, gen uint64, active string, emit func(actor.Input)) {
	name, token, ok, err := r.store.LoadSession(ctx)
	if err != nil {
		logger.Warnf("reconciler: failed to load session: %v", err)
		return
	}
	if !ok || name != active || token == "" {
		return
	}
	logger.Infof("reconciler: restoring session for %s", name)
	// The worker must not wait on the mailbox; the actor may be waiting on
	// the store queue.
	r.spawn(func() {
		emit(evSessionRestored{Gen: gen, Wallet: WalletSession{Name: name, Token: token}})
	})
}
