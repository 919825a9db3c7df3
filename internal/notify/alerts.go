// Package notify turns reconciler status changes into user alerts and
// delivers them through Pushover.
package notify

import (
	"context"
	"fmt"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
)

const (
	// Opposite transitions never share a key; cooldowns are per key.
	keyConnectionLost     = "connection-lost"
	keyConnectionRestored = "connection-restored"
	keyMakerStarted       = "maker-started"
	keyMakerStopped       = "maker-stopped"
	keyCoinjoinFinished   = "coinjoin-finished"
	keyWalletLocked       = "wallet-locked"

	defaultQueueSize = 16
)

// Alerts returns the messages worth sending for a status change.
func Alerts(prev, next reconciler.Status) []Message {
	var out []Message

	switch {
	case prev.ConnectionError == "" && next.ConnectionError != "":
		out = append(out, Message{
			Title:    "JoinMarket unreachable",
			Body:     next.ConnectionError,
			AlertKey: keyConnectionLost,
			Priority: 1,
		})
	case prev.ConnectionError != "" && next.ConnectionError == "":
		out = append(out, Message{
			Title:    "JoinMarket reachable",
			Body:     "Connection to the wallet service restored.",
			AlertKey: keyConnectionRestored,
		})
	}

	// Flags go unknown on failure; only known transitions are reported.
	if prev.MakerRunning.True() && next.MakerRunning == reconciler.FlagFalse {
		out = append(out, Message{
			Title:    "Maker stopped",
			Body:     walletLine(next, "The yield generator is no longer running."),
			AlertKey: keyMakerStopped,
		})
	}
	if prev.MakerRunning == reconciler.FlagFalse && next.MakerRunning.True() {
		out = append(out, Message{
			Title:    "Maker started",
			Body:     walletLine(next, "The yield generator is running."),
			AlertKey: keyMakerStarted,
		})
	}
	if prev.CoinjoinInProcess.True() && next.CoinjoinInProcess == reconciler.FlagFalse {
		out = append(out, Message{
			Title:    "Coinjoin finished",
			Body:     walletLine(next, "The coinjoin is no longer in progress."),
			AlertKey: keyCoinjoinFinished,
		})
	}

	if prev.SessionActive && !next.SessionActive && next.ConnectionError == "" {
		out = append(out, Message{
			Title:    "Wallet locked",
			Body:     fmt.Sprintf("Session for %s ended.", prev.WalletName),
			AlertKey: keyWalletLocked,
		})
	}
	return out
}

func walletLine(st reconciler.Status, text string) string {
	if st.WalletName == "" {
		return text
	}
	return fmt.Sprintf("%s (%s)", text, st.WalletName)
}

// Forwarder queues alerts from status changes and delivers them off the
// reconciler goroutine.
type Forwarder struct {
	notifier Notifier
	queue    chan Message
}

// NewForwarder returns a forwarder delivering through n.
func NewForwarder(n Notifier) *Forwarder {
	return &Forwarder{notifier: n, queue: make(chan Message, defaultQueueSize)}
}

// Observe enqueues the alerts for a status change. It never blocks; alerts
// are dropped when the queue is full. Its signature matches
// reconciler.Subscribe.
func (f *Forwarder) Observe(prev, next reconciler.Status) {
	for _, msg := range Alerts(prev, next) {
		select {
		case f.queue <- msg:
		default:
			logger.Warnf("notify: queue full, dropping %q", msg.Title)
		}
	}
}

// Run delivers queued alerts until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.queue:
			if err := f.notifier.Notify(ctx, msg); err != nil {
				logger.Warnf("notify: failed to send %q: %v", msg.Title, err)
			}
		}
	}
}
