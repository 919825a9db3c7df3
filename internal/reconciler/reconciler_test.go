package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/internal/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeSessions struct {
	mu         sync.Mutex
	info       jmapi.SessionInfo
	err        error
	calls      int
	blockCalls int
	cancelled  chan struct{}
}

func newFakeSessions(info jmapi.SessionInfo) *fakeSessions {
	return &fakeSessions{info: info, cancelled: make(chan struct{}, 8)}
}

func (f *fakeSessions) set(info jmapi.SessionInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info = info
	f.err = err
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSessions) Session(ctx context.Context) (*jmapi.SessionInfo, error) {
	f.mu.Lock()
	f.calls++
	block := f.calls <= f.blockCalls
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		f.cancelled <- struct{}{}
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	return &info, nil
}

type fakePush struct {
	mu        sync.Mutex
	tokens    []string
	next      int
	handlers  map[int]websocket.MessageHandler
	states    map[int]websocket.StateHandler
	connected bool
}

func newFakePush() *fakePush {
	return &fakePush{
		handlers: make(map[int]websocket.MessageHandler),
		states:   make(map[int]websocket.StateHandler),
	}
}

func (p *fakePush) Authenticate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
}

func (p *fakePush) Subscribe(h websocket.MessageHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	p.handlers[id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

func (p *fakePush) OnStateChange(h websocket.StateHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	p.states[id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.states, id)
	}
}

func (p *fakePush) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePush) deliver(payload string) {
	p.mu.Lock()
	handlers := make([]websocket.MessageHandler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h([]byte(payload))
	}
}

func (p *fakePush) setConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	states := make([]websocket.StateHandler, 0, len(p.states))
	for _, h := range p.states {
		states = append(states, h)
	}
	p.mu.Unlock()
	for _, h := range states {
		h(connected, "")
	}
}

func (p *fakePush) subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers) + len(p.states)
}

func (p *fakePush) lastToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) == 0 {
		return ""
	}
	return p.tokens[len(p.tokens)-1]
}

type memStore struct {
	mu    sync.Mutex
	name  string
	token string
}

func (s *memStore) SaveSession(_ context.Context, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name, s.token = name, token
	return nil
}

func (s *memStore) LoadSession(context.Context) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.token, s.name != "", nil
}

func (s *memStore) ClearSession(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" || name == s.name {
		s.name, s.token = "", ""
	}
	return nil
}

func (s *memStore) stored() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func startReconciler(t *testing.T, deps Deps) *Reconciler {
	t.Helper()
	r, err := New(Config{PollInterval: time.Hour}, deps)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func waitFor(t *testing.T, r *Reconciler, pred func(Status) bool) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := r.WaitFor(ctx, pred)
	require.NoError(t, err, "last status: %+v", st)
	return st
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	_, err = New(Config{Codes: StateCodes{Taker: 3, Maker: 3}}, Deps{Sessions: newFakeSessions(jmapi.SessionInfo{})})
	require.Error(t, err)
}

func TestReconcilerPollsOnStart(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{MakerRunning: true, WalletName: "walletA"})
	store := &memStore{name: "walletA", token: "token-a"}
	push := newFakePush()

	r := startReconciler(t, Deps{Sessions: sessions, Push: push, Store: store})

	st := waitFor(t, r, func(s Status) bool { return s.MakerRunning.True() })
	require.Equal(t, "walletA", st.WalletName)
	require.Equal(t, IndicatorMaker, st.Indicator)
	require.Equal(t, "token-a", push.lastToken())

	wallet, ok := r.Wallet()
	require.True(t, ok)
	require.Equal(t, "token-a", wallet.Token)
}

func TestReconcilerAppliesPushEvents(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "None"})
	push := newFakePush()
	r := startReconciler(t, Deps{Sessions: sessions, Push: push})
	waitFor(t, r, func(s Status) bool { return s.Indicator == IndicatorIdle })

	push.setConnected(true)
	push.deliver(`{"coinjoin_state":0}`)
	st := waitFor(t, r, func(s Status) bool { return s.CoinjoinInProcess.True() })
	require.True(t, st.WebsocketConnected)
	require.False(t, st.MakerRunning.True())

	push.deliver(`{"garbage":1}`)
	push.deliver(`{"coinjoin_state":1}`)
	st = waitFor(t, r, func(s Status) bool { return s.MakerRunning.True() })
	require.False(t, st.CoinjoinInProcess.True())
}

func TestReconcilerCancelsInFlightPollOnWalletChange(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{MakerRunning: true, WalletName: "walletB"})
	sessions.blockCalls = 1
	store := &memStore{name: "walletA", token: "token-a"}
	push := newFakePush()
	r := startReconciler(t, Deps{Sessions: sessions, Push: push, Store: store})
	require.Eventually(t, func() bool { return sessions.callCount() == 1 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, r.SetWallet(context.Background(), "walletB", "token-b"))

	select {
	case <-sessions.cancelled:
	case <-time.After(waitTimeout):
		t.Fatal("in-flight poll was not cancelled")
	}

	st := waitFor(t, r, func(s Status) bool { return s.MakerRunning.True() })
	require.Equal(t, "walletB", st.WalletName)
	require.Eventually(t, func() bool { return store.stored() == "walletB" }, waitTimeout, 10*time.Millisecond)
	require.Equal(t, "token-b", push.lastToken())
}

func TestReconcilerClearsStaleWallet(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "None"})
	store := &memStore{name: "walletA", token: "token-a"}
	r := startReconciler(t, Deps{Sessions: sessions, Store: store})

	st := waitFor(t, r, func(s Status) bool { return s.Indicator == IndicatorIdle && !s.SessionActive })
	require.Empty(t, st.WalletName)
	require.Eventually(t, func() bool { return store.stored() == "" }, waitTimeout, 10*time.Millisecond)
}

func TestReconcilerRestoresSessionAfterOutage(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "walletA"})
	store := &memStore{name: "walletA", token: "token-a"}
	r := startReconciler(t, Deps{Sessions: sessions, Store: store})
	waitFor(t, r, func(s Status) bool { return s.SessionActive && s.Indicator == IndicatorIdle })

	sessions.set(jmapi.SessionInfo{}, errors.New("connection refused"))
	require.NoError(t, r.Refresh(context.Background()))
	st := waitFor(t, r, func(s Status) bool { return s.ConnectionError != "" })
	require.Equal(t, "connection refused", st.ConnectionError)
	require.False(t, st.SessionActive)
	require.Equal(t, FlagUnknown, st.MakerRunning)
	require.Equal(t, "walletA", store.stored())

	sessions.set(jmapi.SessionInfo{WalletName: "walletA"}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	st = waitFor(t, r, func(s Status) bool { return s.SessionActive && s.Connected() })
	require.Equal(t, "walletA", st.WalletName)
}

func TestReconcilerClearWalletDuringOutageIsNotRestored(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "walletA"})
	store := &memStore{name: "walletA", token: "token-a"}
	r := startReconciler(t, Deps{Sessions: sessions, Store: store})
	waitFor(t, r, func(s Status) bool { return s.SessionActive && s.Indicator == IndicatorIdle })

	sessions.set(jmapi.SessionInfo{}, errors.New("connection refused"))
	require.NoError(t, r.Refresh(context.Background()))
	waitFor(t, r, func(s Status) bool { return s.ConnectionError != "" && !s.SessionActive })
	require.Equal(t, "walletA", store.stored())

	require.NoError(t, r.ClearWallet(context.Background()))
	require.Eventually(t, func() bool { return store.stored() == "" }, waitTimeout, 10*time.Millisecond)

	sessions.set(jmapi.SessionInfo{WalletName: "walletA"}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	st := waitFor(t, r, func(s Status) bool { return s.Connected() && s.Indicator == IndicatorIdle })
	require.False(t, st.SessionActive)
	require.Never(t, func() bool { return r.Status().SessionActive }, 200*time.Millisecond, 10*time.Millisecond)
	_, held := r.Wallet()
	require.False(t, held)
}

func TestReconcilerSubscribeSeesOnlyChanges(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "None"})
	r, err := New(Config{PollInterval: time.Hour}, Deps{Sessions: sessions})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []Status
	unsubscribe := r.Subscribe(func(_, next Status) {
		mu.Lock()
		seen = append(seen, next)
		mu.Unlock()
	})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	waitFor(t, r, func(s Status) bool { return s.Indicator == IndicatorIdle })
	require.NoError(t, r.Refresh(context.Background()))
	require.NoError(t, r.Refresh(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, waitTimeout, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()
}

func TestReconcilerStopUnsubscribes(t *testing.T) {
	sessions := newFakeSessions(jmapi.SessionInfo{WalletName: "None"})
	push := newFakePush()
	r, err := New(Config{}, Deps{Sessions: sessions, Push: push})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	require.Equal(t, 2, push.subscriptions())

	cancel()
	select {
	case <-r.Done():
	case <-time.After(waitTimeout):
		t.Fatal("reconciler did not stop with its context")
	}
	require.Eventually(t, func() bool { return push.subscriptions() == 0 }, waitTimeout, 10*time.Millisecond)
	require.ErrorIs(t, r.SetWallet(context.Background(), "walletA", "tok"), actor.ErrStopped)

	r.Stop()
}

func TestSetWalletValidates(t *testing.T) {
	r, err := New(Config{}, Deps{Sessions: newFakeSessions(jmapi.SessionInfo{})})
	require.NoError(t, err)
	require.Error(t, r.SetWallet(context.Background(), " ", "tok"))
	require.Error(t, r.SetWallet(context.Background(), "walletA", ""))
	r.Stop()
}
