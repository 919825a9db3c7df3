// Package websocket maintains the push channel to the JoinMarket wallet
// service. The connection is re-established with a fixed delay after every
// failure, and the current wallet token is sent as the first text frame of
// each connection so the service starts delivering wallet events.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	// DefaultReconnectDelay is the pause between connection attempts.
	DefaultReconnectDelay = 1 * time.Second
	defaultHandshake      = 10 * time.Second
	writeWait             = 5 * time.Second
)

// ErrClosed is returned when starting a client that has been closed.
var ErrClosed = errors.New("push client closed")

// MessageHandler receives the raw payload of a text frame.
type MessageHandler func(payload []byte)

// StateHandler is told about connection open and close. reason is empty when
// connected.
type StateHandler func(connected bool, reason string)

// Config configures a Client.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
	Header           http.Header
}

// Client is a reconnecting push channel.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.RWMutex
	token     string
	connected bool
	nextID    uint64
	handlers  map[uint64]MessageHandler
	states    map[uint64]StateHandler

	authCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	closed    chan struct{}
}

// NewClient returns a client for cfg.URL. Call Start to connect.
func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshake
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLSConfig,
		},
		handlers: make(map[uint64]MessageHandler),
		states:   make(map[uint64]StateHandler),
		authCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Start launches the connection loop. It runs until ctx is done or Close is
// called.
func (c *Client) Start(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(runCtx)
	})
	return nil
}

// Close stops the loop and waits for the connection to be torn down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.RLock()
		cancel := c.cancel
		c.mu.RUnlock()
		if cancel == nil {
			close(c.done)
			return
		}
		cancel()
		<-c.done
	})
	return nil
}

// Done is closed after the connection loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe registers h for every text frame. Handlers run on the read
// goroutine in arrival order.
func (c *Client) Subscribe(h MessageHandler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// OnStateChange registers h for connection state changes.
func (c *Client) OnStateChange(h StateHandler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.states[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.states, id)
			c.mu.Unlock()
		})
	}
}

// Authenticate sets the token sent on every (re)connect. A non-empty token is
// also sent on the live connection. An empty token stops future sends.
func (c *Client) Authenticate(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	if token == "" {
		return
	}
	select {
	case c.authCh <- struct{}{}:
	default:
	}
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// WaitForConnect waits for the connection to open or times out.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return c.IsConnected()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setConnected(connected bool, reason string) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	handlers := make([]StateHandler, 0, len(c.states))
	for _, h := range c.states {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(connected, reason)
	}
}

func (c *Client) dispatch(payload []byte) {
	c.mu.RLock()
	handlers := make([]MessageHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		reason := c.connectOnce(ctx)
		c.setConnected(false, reason)
		if ctx.Err() != nil {
			return
		}
		logger.Debugf("push channel down (%s), retrying in %s", reason, c.cfg.ReconnectDelay)

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials, serves one connection until it fails and returns the
// reason it ended.
func (c *Client) connectOnce(ctx context.Context) string {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return err.Error()
	}
	defer conn.Close()

	logger.Debugf("push channel connected to %s", c.cfg.URL)
	c.setConnected(true, "")

	select {
	case <-c.authCh:
	default:
	}
	if token := c.currentToken(); token != "" {
		if err := c.write(conn, token); err != nil {
			return err.Error()
		}
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			logger.Tracef("push frame: %s", data)
			c.dispatch(data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			<-readErr
			return "closed"
		case <-c.authCh:
			token := c.currentToken()
			if token == "" {
				continue
			}
			if err := c.write(conn, token); err != nil {
				_ = conn.Close()
				<-readErr
				return err.Error()
			}
		case err := <-readErr:
			return err.Error()
		}
	}
}

func (c *Client) write(conn *websocket.Conn, text string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}
