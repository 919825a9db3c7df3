package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	status     reconciler.Status
	wallet     *reconciler.WalletSession
	subs       map[int]func(prev, next reconciler.Status)
	nextID     int
	refreshes  int
	refreshErr error
	walletErr  error
	cleared    int
}

func newFakeSource(st reconciler.Status) *fakeSource {
	return &fakeSource{status: st, subs: make(map[int]func(prev, next reconciler.Status))}
}

func (f *fakeSource) Status() reconciler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) Wallet() (reconciler.WalletSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wallet == nil {
		return reconciler.WalletSession{}, false
	}
	return *f.wallet, true
}

func (f *fakeSource) Subscribe(fn func(prev, next reconciler.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) SetWallet(_ context.Context, name, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletErr != nil {
		return f.walletErr
	}
	f.wallet = &reconciler.WalletSession{Name: name, Token: token}
	return nil
}

func (f *fakeSource) ClearWallet(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletErr != nil {
		return f.walletErr
	}
	f.wallet = nil
	f.cleared++
	return nil
}

func (f *fakeSource) set(next reconciler.Status) {
	f.mu.Lock()
	prev := f.status
	f.status = next
	subs := make([]func(prev, next reconciler.Status), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(prev, next)
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeHistory struct {
	records   []storage.StatusRecord
	err       error
	lastLimit int
}

func (h *fakeHistory) RecentStatus(_ context.Context, limit int) ([]storage.StatusRecord, error) {
	h.lastLimit = limit
	return h.records, h.err
}

func idleStatus(wallet string) reconciler.Status {
	st := reconciler.Status{
		WalletName:         wallet,
		SessionActive:      wallet != "",
		MakerRunning:       reconciler.FlagFalse,
		CoinjoinInProcess:  reconciler.FlagFalse,
		WebsocketConnected: true,
		Indicator:          reconciler.IndicatorIdle,
	}
	return st
}

func newTestServer(t *testing.T, src *fakeSource, history HistorySource, origins ...string) *Server {
	t.Helper()
	s, err := New(Config{AllowedOrigins: origins}, src, history)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestNewRejectsBadOrigin(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	_, err := New(Config{AllowedOrigins: []string{"not an origin"}}, src, nil)
	require.Error(t, err)
	require.Zero(t, src.subscribers())
}

func TestGetStatus(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	src := newFakeSource(idleStatus("walletA.jmdat"))
	src.wallet = &reconciler.WalletSession{Name: "walletA.jmdat", Token: token}
	s := newTestServer(t, src, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "walletA.jmdat", body["walletName"])
	require.Equal(t, true, body["sessionActive"])
	require.Equal(t, false, body["makerRunning"])
	require.Equal(t, "idle", body["indicator"])
	require.Equal(t, float64(exp.UnixMilli()), body["tokenExpiresAt"])
	require.NotContains(t, rec.Body.String(), token)
	require.NotContains(t, body, "banner")
}

func TestGetStatusDisconnected(t *testing.T) {
	src := newFakeSource(reconciler.Status{
		ConnectionError: "connection refused",
		Indicator:       reconciler.IndicatorDisconnected,
	})
	s := newTestServer(t, src, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body["makerRunning"])
	require.Equal(t, "No connection to backend: connection refused.", body["banner"])
	require.NotContains(t, body, "tokenExpiresAt")
}

func TestGetRoute(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil)

	check := func(path string, known, allowed bool) {
		t.Helper()
		rec := doRequest(t, s.Handler(), http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code)
		var body routeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, known, body.Known, path)
		require.Equal(t, allowed, body.Allowed, path)
	}

	check("/api/routes/home", true, true)
	check("/api/routes/create-wallet", true, true)
	check("/api/routes/wallet", true, false)
	check("/api/routes/nope", false, false)

	src.set(idleStatus("walletA.jmdat"))
	check("/api/routes/earn", true, true)

	src.set(reconciler.Status{ConnectionError: "boom"})
	check("/api/routes/home", true, false)
}

func TestPostRefresh(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/status/refresh")
	require.Equal(t, http.StatusAccepted, rec.Code)

	src.mu.Lock()
	src.refreshErr = errors.New("stopped")
	src.mu.Unlock()
	rec = doRequest(t, s.Handler(), http.MethodPost, "/api/status/refresh")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, 2, src.refreshes)
}

func TestGetHistory(t *testing.T) {
	src := newFakeSource(idleStatus(""))

	s := newTestServer(t, src, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/history")
	require.Equal(t, http.StatusNotFound, rec.Code)

	hist := &fakeHistory{records: []storage.StatusRecord{{ID: 2, Indicator: "idle"}, {ID: 1, Indicator: "unknown"}}}
	s = newTestServer(t, src, hist)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, hist.lastLimit)

	var body struct {
		Records []storage.StatusRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 2)
	require.Equal(t, int64(2), body.Records[0].ID)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/history?limit=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	hist.records, hist.err = nil, errors.New("disk")
	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/history")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, defaultHistoryAPI, hist.lastLimit)
}

func TestCORS(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil, "http://localhost:3000")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil)

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/session", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := put(`{"walletName":"walletA.jmdat"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, held := src.Wallet()
	require.False(t, held)

	rec = put(`{"walletName":"walletA.jmdat","token":"tok"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	wallet, held := src.Wallet()
	require.True(t, held)
	require.Equal(t, reconciler.WalletSession{Name: "walletA.jmdat", Token: "tok"}, wallet)

	rec = doRequest(t, s.Handler(), http.MethodDelete, "/api/session")
	require.Equal(t, http.StatusAccepted, rec.Code)
	_, held = src.Wallet()
	require.False(t, held)
	require.Equal(t, 1, src.cleared)

	src.walletErr = errors.New("actor stopped")
	rec = put(`{"walletName":"walletA.jmdat","token":"tok"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = doRequest(t, s.Handler(), http.MethodDelete, "/api/session")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) StatusResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp StatusResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestStatusStream(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv)
	first := readStatus(t, conn)
	require.Equal(t, reconciler.IndicatorIdle, first.Indicator)
	require.False(t, first.SessionActive)

	require.Eventually(t, func() bool { return s.hub.count() == 1 }, time.Second, 5*time.Millisecond)

	next := idleStatus("walletA.jmdat")
	next.MakerRunning = reconciler.FlagTrue
	next.Indicator = reconciler.IndicatorMaker
	src.set(next)

	got := readStatus(t, conn)
	require.Equal(t, "walletA.jmdat", got.WalletName)
	require.Equal(t, reconciler.FlagTrue, got.MakerRunning)
	require.Equal(t, reconciler.IndicatorMaker, got.Indicator)
}

func TestStatusStreamChecksOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  func(srv *httptest.Server) string
		ok      bool
	}{
		{
			name:   "no origin header",
			origin: func(*httptest.Server) string { return "" },
			ok:     true,
		},
		{
			name:   "same host",
			origin: func(srv *httptest.Server) string { return srv.URL },
			ok:     true,
		},
		{
			name:   "foreign page",
			origin: func(*httptest.Server) string { return "http://evil.example" },
		},
		{
			name:    "configured origin",
			allowed: []string{"http://localhost:3000"},
			origin:  func(*httptest.Server) string { return "http://localhost:3000" },
			ok:      true,
		},
		{
			name:    "foreign page with allowlist",
			allowed: []string{"http://localhost:3000"},
			origin:  func(*httptest.Server) string { return "http://evil.example" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(idleStatus(""))
			s := newTestServer(t, src, nil, tt.allowed...)
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			header := http.Header{}
			if origin := tt.origin(srv); origin != "" {
				header.Set("Origin", origin)
			}
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/status/ws"
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				require.NoError(t, err)
				defer conn.Close()
				readStatus(t, conn)
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestCloseDisconnectsStreams(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s := newTestServer(t, src, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv)
	readStatus(t, conn)
	require.Eventually(t, func() bool { return s.hub.count() == 1 }, time.Second, 5*time.Millisecond)

	s.Close()
	require.Zero(t, src.subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	src := newFakeSource(idleStatus(""))
	s, err := New(Config{Addr: "127.0.0.1:0"}, src, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.Zero(t, src.subscribers())
}
