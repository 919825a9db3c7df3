package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// pushServer is a minimal stand-in for the wallet service push endpoint.
type pushServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{t: t, received: make(chan string, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ps.received <- string(data)
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) latest() *websocket.Conn {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.conns) == 0 {
		return nil
	}
	return ps.conns[len(ps.conns)-1]
}

func (ps *pushServer) connCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

func (ps *pushServer) expectFrame(timeout time.Duration) string {
	ps.t.Helper()
	select {
	case msg := <-ps.received:
		return msg
	case <-time.After(timeout):
		ps.t.Fatalf("no frame received within %s", timeout)
		return ""
	}
}

func startClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(Config{URL: url, ReconnectDelay: 20 * time.Millisecond})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientSendsTokenOnConnect(t *testing.T) {
	ps := newPushServer(t)
	c := NewClient(Config{URL: ps.url(), ReconnectDelay: 20 * time.Millisecond})
	c.Authenticate("tok-1")
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.True(t, c.WaitForConnect(2*time.Second))
	require.Equal(t, "tok-1", ps.expectFrame(2*time.Second))
}

func TestClientAuthenticateOnLiveConnection(t *testing.T) {
	ps := newPushServer(t)
	c := startClient(t, ps.url())
	require.True(t, c.WaitForConnect(2*time.Second))

	c.Authenticate("tok-2")
	require.Equal(t, "tok-2", ps.expectFrame(2*time.Second))

	c.Authenticate("")
	select {
	case msg := <-ps.received:
		t.Fatalf("unexpected frame %q after clearing token", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientDispatchesFramesInOrder(t *testing.T) {
	ps := newPushServer(t)
	c := startClient(t, ps.url())

	got := make(chan string, 4)
	unsubscribe := c.Subscribe(func(payload []byte) { got <- string(payload) })
	require.True(t, c.WaitForConnect(2*time.Second))
	require.Eventually(t, func() bool { return ps.latest() != nil }, 2*time.Second, 10*time.Millisecond)

	conn := ps.latest()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"coinjoin_state":1}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"coinjoin_state":2}`)))

	require.Equal(t, `{"coinjoin_state":1}`, <-got)
	require.Equal(t, `{"coinjoin_state":2}`, <-got)

	unsubscribe()
	unsubscribe()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"coinjoin_state":0}`)))
	select {
	case msg := <-got:
		t.Fatalf("handler called after unsubscribe with %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientReconnectsAndReportsState(t *testing.T) {
	ps := newPushServer(t)
	c := NewClient(Config{URL: ps.url(), ReconnectDelay: 20 * time.Millisecond})

	var mu sync.Mutex
	var states []bool
	c.OnStateChange(func(connected bool, reason string) {
		mu.Lock()
		states = append(states, connected)
		mu.Unlock()
	})
	c.Authenticate("tok")
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.Equal(t, "tok", ps.expectFrame(2*time.Second))
	require.NoError(t, ps.latest().Close())

	require.Eventually(t, func() bool { return ps.connCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "tok", ps.expectFrame(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 3)
	require.Equal(t, []bool{true, false, true}, states[:3])
}

func TestClientCloseStopsLoop(t *testing.T) {
	ps := newPushServer(t)
	c := NewClient(Config{URL: ps.url()})
	require.NoError(t, c.Start(context.Background()))
	require.True(t, c.WaitForConnect(2*time.Second))

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	require.False(t, c.IsConnected())
	require.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestClientCloseBeforeStart(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"})
	require.NoError(t, c.Close())
	<-c.Done()
}
