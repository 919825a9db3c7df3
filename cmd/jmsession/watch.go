package main

import (
	"context"
	"fmt"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/notify"
	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/statusserver"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/abhiShandy/joinmarket-webui/internal/tokens"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	historyQueueSize    = 64
	tokenCheckInterval  = time.Minute
	historyWriteTimeout = 5 * time.Second
)

type watchCmd struct {
	app *app

	NoServer  bool `long:"no-server" description:"Do not serve the local status API"`
	NoHistory bool `long:"no-history" description:"Do not record status changes"`
	Quiet     bool `long:"quiet" short:"q" description:"Do not print status lines"`
}

func (c *watchCmd) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg := c.app.cfg
	db, err := c.app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := c.app.client()
	if err != nil {
		return err
	}
	push, err := c.app.pushClient()
	if err != nil {
		return err
	}
	defer push.Close()

	rec, err := reconciler.New(c.app.reconcilerConfig(), reconciler.Deps{
		Sessions: client,
		Push:     push,
		Store:    db,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if !c.Quiet {
		printer := c.app.printer()
		unsubscribe := rec.Subscribe(func(_, next reconciler.Status) {
			if err := printer.PrintStatus(next, time.Now()); err != nil {
				logger.Debugf("failed to print status: %v", err)
			}
		})
		defer unsubscribe()
	}

	if !c.NoHistory {
		h := newHistoryRecorder(db)
		unsubscribe := rec.Subscribe(h.observe)
		defer unsubscribe()
		g.Go(func() error { return h.run(gctx) })
	}

	if cfg.NotificationsEnabled() {
		n, err := notify.NewPushoverNotifier(notify.PushoverConfig{
			Token:   cfg.PushoverToken,
			UserKey: cfg.PushoverUser,
		})
		if err != nil {
			return err
		}
		fwd := notify.NewForwarder(n)
		unsubscribe := rec.Subscribe(fwd.Observe)
		defer unsubscribe()
		g.Go(func() error { return fwd.Run(gctx) })
		logger.Infof("Pushover notifications enabled")
	}

	if !c.NoServer {
		srv, err := statusserver.New(statusserver.Config{
			Addr:           cfg.StatusAddr,
			AllowedOrigins: cfg.AllowedOrigins,
			Debug:          cfg.Debug,
		}, rec, db)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if err := push.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	if err := rec.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	logger.Infof("Watching %s (push %s), polling every %s", cfg.ServerURL, cfg.WSURL, cfg.PollInterval)

	g.Go(func() error {
		watchTokenExpiry(gctx, rec)
		return nil
	})
	g.Go(func() error {
		<-rec.Done()
		return nil
	})

	err = g.Wait()
	rec.Stop()
	return err
}

// watchTokenExpiry warns once per wallet when the held token is about to
// expire.
func watchTokenExpiry(ctx context.Context, rec *reconciler.Reconciler) {
	ticker := time.NewTicker(tokenCheckInterval)
	defer ticker.Stop()

	warned := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		wallet, ok := rec.Wallet()
		if !ok {
			warned = ""
			continue
		}
		now := time.Now()
		switch {
		case warned == wallet.Token:
		case tokens.Expired(wallet.Token, now):
			logger.Warnf("Session token for %s has expired; unlock the wallet again", wallet.Name)
			warned = wallet.Token
		case tokens.ExpiringSoon(wallet.Token, now, tokens.ExpiryWarningWindow):
			remaining, _ := tokens.Remaining(wallet.Token, now)
			logger.Warnf("Session token for %s expires in %s", wallet.Name, remaining.Round(time.Second))
			warned = wallet.Token
		}
	}
}

// historyRecorder writes status changes to the database off the reconciler
// goroutine.
type historyRecorder struct {
	db    *storage.DB
	queue chan storage.StatusRecord
}

func newHistoryRecorder(db *storage.DB) *historyRecorder {
	return &historyRecorder{db: db, queue: make(chan storage.StatusRecord, historyQueueSize)}
}

func statusRecord(st reconciler.Status, at time.Time) storage.StatusRecord {
	return storage.StatusRecord{
		RecordedAt:         at,
		WalletName:         st.WalletName,
		Indicator:          string(st.Indicator),
		MakerRunning:       st.MakerRunning.String(),
		CoinjoinInProcess:  st.CoinjoinInProcess.String(),
		WebsocketConnected: st.WebsocketConnected,
		ConnectionError:    st.ConnectionError,
	}
}

func (h *historyRecorder) observe(_, next reconciler.Status) {
	select {
	case h.queue <- statusRecord(next, time.Now()):
	default:
		logger.Warnf("status history queue full, dropping record")
	}
}

func (h *historyRecorder) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-h.queue:
			writeCtx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
			err := h.db.RecordStatus(writeCtx, rec)
			cancel()
			if err != nil {
				logger.Warnf("failed to record status: %v", err)
			}
		}
	}
}
