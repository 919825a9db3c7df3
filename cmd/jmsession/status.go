package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/abhiShandy/joinmarket-webui/internal/tokens"
)

type statusCmd struct {
	app *app

	JSON    bool          `long:"json" description:"Print the status as JSON"`
	Timeout time.Duration `long:"timeout" default:"15s" description:"How long to wait for the first poll"`
}

// settled reports whether st reflects at least one completed poll.
func settled(st reconciler.Status) bool {
	return st.Indicator != reconciler.IndicatorUnknown
}

func (c *statusCmd) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	db, err := c.app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := c.app.startReconciler(ctx, db, nil)
	if err != nil {
		return err
	}
	defer rec.Stop()

	st, err := rec.WaitFor(ctx, settled)
	if err != nil {
		return fmt.Errorf("no status from %s: %w", c.app.cfg.ServerURL, err)
	}

	if c.JSON {
		out := struct {
			reconciler.Status
			Banner         string `json:"banner,omitempty"`
			TokenExpiresAt int64  `json:"tokenExpiresAt,omitempty"`
		}{Status: st, Banner: st.Banner()}
		if wallet, ok := rec.Wallet(); ok {
			if exp, ok := tokens.ExpiresAt(wallet.Token); ok {
				out.TokenExpiresAt = exp.UnixMilli()
			}
		}
		enc := json.NewEncoder(c.app.out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if err := c.app.printer().PrintStatus(st, time.Now()); err != nil {
		return err
	}
	if wallet, ok := rec.Wallet(); ok {
		if remaining, ok := tokens.Remaining(wallet.Token, time.Now()); ok {
			fmt.Fprintf(c.app.out, "  token valid for %s\n", remaining.Round(time.Second))
		}
	}
	return nil
}

// startReconciler starts a reconciler over the stored session. push may be
// nil for one-shot commands.
func (a *app) startReconciler(ctx context.Context, db *storage.DB, push reconciler.PushChannel) (*reconciler.Reconciler, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	deps := reconciler.Deps{Sessions: client, Store: db}
	if push != nil {
		deps.Push = push
	}
	rec, err := reconciler.New(a.reconcilerConfig(), deps)
	if err != nil {
		return nil, err
	}
	if err := rec.Start(ctx); err != nil {
		rec.Stop()
		return nil, err
	}
	return rec, nil
}
