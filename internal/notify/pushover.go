package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
)

const (
	// DefaultPushoverEndpoint is the Pushover message API.
	DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// DefaultCooldown is the minimum gap between alerts with the same key.
	DefaultCooldown = 5 * time.Minute

	pushoverContentType    = "application/x-www-form-urlencoded"
	defaultPushoverTimeout = 10 * time.Second
)

// Message is a single alert.
type Message struct {
	Title string
	Body  string
	// AlertKey groups messages for cooldown; repeated alerts with the same
	// key inside the cooldown window are dropped.
	AlertKey string
	// Priority overrides the notifier default when non-zero.
	Priority int
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// PushoverConfig describes the credentials and defaults for Pushover delivery.
type PushoverConfig struct {
	Token    string
	UserKey  string
	Priority int
	// Cooldown defaults to DefaultCooldown; a negative value is rejected.
	Cooldown time.Duration
	// Endpoint defaults to DefaultPushoverEndpoint.
	Endpoint   string
	HTTPClient *http.Client
	Clock      actor.Clock
}

// PushoverNotifier sends alerts through Pushover.
type PushoverNotifier struct {
	token    string
	userKey  string
	priority int
	cooldown time.Duration
	endpoint string
	client   *http.Client
	clock    actor.Clock

	mu        sync.Mutex
	lastSent  map[string]time.Time
	lastError error
}

var _ Notifier = (*PushoverNotifier)(nil)

// NewPushoverNotifier validates cfg and returns a notifier.
func NewPushoverNotifier(cfg PushoverConfig) (*PushoverNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, fmt.Errorf("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("pushover cooldown must be non-negative")
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPushoverEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultPushoverTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = actor.RealClock{}
	}

	return &PushoverNotifier{
		token:    cfg.Token,
		userKey:  cfg.UserKey,
		priority: cfg.Priority,
		cooldown: cfg.Cooldown,
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
		clock:    cfg.Clock,
		lastSent: make(map[string]time.Time),
	}, nil
}

// Notify sends msg unless an alert with the same key went out within the
// cooldown window.
func (n *PushoverNotifier) Notify(ctx context.Context, msg Message) error {
	alertKey := strings.TrimSpace(msg.AlertKey)
	if alertKey == "" {
		return fmt.Errorf("alert key is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("alert body is required")
	}

	now := n.clock.Now()
	if !n.shouldSend(alertKey, now) {
		return nil
	}

	if err := n.send(ctx, msg); err != nil {
		n.setLastError(err)
		return err
	}
	n.markSent(alertKey, now)
	return nil
}

// LastError returns the most recent send error, if any.
func (n *PushoverNotifier) LastError() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastError
}

func (n *PushoverNotifier) shouldSend(alertKey string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[alertKey]
	if !ok {
		return true
	}
	return now.Sub(last) >= n.cooldown
}

func (n *PushoverNotifier) markSent(alertKey string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSent[alertKey] = now
	n.lastError = nil
}

func (n *PushoverNotifier) setLastError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastError = err
}

func (n *PushoverNotifier) send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("token", n.token)
	form.Set("user", n.userKey)
	form.Set("message", strings.TrimSpace(msg.Body))
	if title := strings.TrimSpace(msg.Title); title != "" {
		form.Set("title", title)
	}
	priority := n.priority
	if msg.Priority != 0 {
		priority = msg.Priority
	}
	if priority != 0 {
		form.Set("priority", strconv.Itoa(priority))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request build failed: %w", err)
	}
	req.Header.Set("Content-Type", pushoverContentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("pushover response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
