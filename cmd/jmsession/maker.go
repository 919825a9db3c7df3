package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/render"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
)

type makerStartCmd struct {
	app *app

	Type    string        `long:"type" choice:"rel" choice:"abs" description:"Offer type (relative or absolute fee)"`
	FeeRel  string        `long:"fee-rel" description:"Relative coinjoin fee, e.g. 0.0003"`
	FeeAbs  string        `long:"fee-abs" description:"Absolute coinjoin fee in sats (or BTC with a btc suffix)"`
	MinSize string        `long:"minsize" description:"Minimum coinjoin amount in sats (or BTC with a btc suffix)"`
	TxFee   int64         `long:"txfee" default:"0" description:"Miner fee contribution in sats"`
	Save    bool          `long:"save" description:"Remember these offer settings"`
	Wait    bool          `long:"wait" description:"Wait until the maker is reported running"`
	Timeout time.Duration `long:"timeout" default:"2m" description:"How long --wait waits"`
}

// offer merges the flags over the saved preferences.
func (c *makerStartCmd) offer(prefs storage.MakerPrefs) (jmapi.Offer, storage.MakerPrefs, error) {
	switch c.Type {
	case "rel":
		prefs.OfferType = string(jmapi.OfferRelative)
	case "abs":
		prefs.OfferType = string(jmapi.OfferAbsolute)
	}
	if c.FeeRel != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(c.FeeRel), 64)
		if err != nil {
			return jmapi.Offer{}, prefs, fmt.Errorf("invalid --fee-rel %q", c.FeeRel)
		}
		prefs.FeeRel = v
	}
	if c.FeeAbs != "" {
		v, err := parseSats("--fee-abs", c.FeeAbs)
		if err != nil {
			return jmapi.Offer{}, prefs, err
		}
		prefs.FeeAbs = v
	}
	if c.MinSize != "" {
		v, err := parseSats("--minsize", c.MinSize)
		if err != nil {
			return jmapi.Offer{}, prefs, err
		}
		prefs.MinSize = v
	}

	offer := jmapi.Offer{
		TxFee:     c.TxFee,
		CJFeeA:    prefs.FeeAbs,
		CJFeeR:    prefs.FeeRel,
		OrderType: jmapi.OfferType(prefs.OfferType),
		MinSize:   prefs.MinSize,
	}
	return offer, prefs, offer.Validate()
}

func (c *makerStartCmd) Execute([]string) error {
	prefs, err := storage.LoadMakerPrefs(c.app.cfg.Home)
	if err != nil {
		return err
	}
	offer, prefs, err := c.offer(prefs)
	if err != nil {
		return err
	}

	return c.app.runMakerCommand(c.Wait, c.Timeout, makerStart, func(ctx context.Context, client *jmapi.Client, auth jmapi.Auth) error {
		if err := client.StartMaker(ctx, auth, offer); err != nil {
			return fmt.Errorf("failed to start maker: %w", err)
		}
		if c.Save {
			if err := storage.SaveMakerPrefs(c.app.cfg.Home, prefs); err != nil {
				logger.Warnf("failed to save maker preferences: %v", err)
			}
		}
		fmt.Fprintf(c.app.out, "Maker start requested for %s (%s).\n", auth.WalletName, offer.OrderType)
		return nil
	})
}

type makerStopCmd struct {
	app *app

	Wait    bool          `long:"wait" description:"Wait until the maker is reported stopped"`
	Timeout time.Duration `long:"timeout" default:"2m" description:"How long --wait waits"`
}

func (c *makerStopCmd) Execute([]string) error {
	return c.app.runMakerCommand(c.Wait, c.Timeout, makerStop, func(ctx context.Context, client *jmapi.Client, auth jmapi.Auth) error {
		if err := client.StopMaker(ctx, auth); err != nil {
			return fmt.Errorf("failed to stop maker: %w", err)
		}
		fmt.Fprintf(c.app.out, "Maker stop requested for %s.\n", auth.WalletName)
		return nil
	})
}

type makerDirection int

const (
	makerStart makerDirection = iota
	makerStop
)

// runMakerCommand issues a maker request. With wait, it follows the session
// until the backend reports the requested maker state.
func (a *app) runMakerCommand(wait bool, timeout time.Duration, dir makerDirection,
	request func(context.Context, *jmapi.Client, jmapi.Auth) error) error {

	ctx, stop := signalContext()
	defer stop()

	client, auth, closeDB, err := a.authedClient(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if !wait {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return request(reqCtx, client, auth)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	push, err := a.pushClient()
	if err != nil {
		return err
	}
	defer push.Close()
	if err := push.Start(ctx); err != nil {
		return err
	}

	rec, err := a.startReconciler(ctx, db, push)
	if err != nil {
		return err
	}
	defer rec.Stop()

	if _, err := rec.WaitFor(ctx, settled); err != nil {
		return fmt.Errorf("no status from %s: %w", a.cfg.ServerURL, err)
	}
	if err := request(ctx, client, auth); err != nil {
		return err
	}

	mark, want := rec.MarkMakerStarting, reconciler.FlagTrue
	if dir == makerStop {
		mark, want = rec.MarkMakerStopping, reconciler.FlagFalse
	}
	if err := mark(ctx); err != nil {
		return err
	}

	st, err := rec.WaitFor(ctx, func(st reconciler.Status) bool {
		return !st.Connected() || st.MakerRunning == want
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("maker did not reach the requested state within %s", timeout)
	case err != nil:
		return err
	case !st.Connected():
		return fmt.Errorf("lost connection to the wallet service: %s", st.ConnectionError)
	}
	return a.printer().PrintStatus(st, time.Now())
}

func parseSats(flag, raw string) (int64, error) {
	v, err := render.ParseAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return v, nil
}
