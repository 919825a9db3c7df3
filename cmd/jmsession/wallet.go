package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/internal/render"
	"github.com/abhiShandy/joinmarket-webui/internal/tokens"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"golang.org/x/term"
)

const (
	requestTimeout  = 30 * time.Second
	announceTimeout = 3 * time.Second
)

type walletsCmd struct {
	app *app
}

func (c *walletsCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, err := c.app.client()
	if err != nil {
		return err
	}
	wallets, err := client.ListWallets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}
	if len(wallets) == 0 {
		fmt.Fprintln(c.app.out, "No wallets found.")
		return nil
	}

	info, err := client.Session(ctx)
	if err != nil {
		logger.Debugf("session lookup failed: %v", err)
	}
	for _, w := range wallets {
		marker := " "
		if info != nil && info.ActiveWallet() == w {
			marker = "*"
		}
		fmt.Fprintf(c.app.out, "%s %s\n", marker, w)
	}
	return nil
}

type unlockCmd struct {
	app *app

	PasswordStdin bool `long:"password-stdin" description:"Read the password from the first line of stdin"`
	Args          struct {
		Wallet string `positional-arg-name:"wallet" description:"Wallet file name, e.g. wallet.jmdat"`
	} `positional-args:"yes" required:"yes"`
}

func (c *unlockCmd) Execute([]string) error {
	password, err := readPassword(c.PasswordStdin, fmt.Sprintf("Password for %s: ", c.Args.Wallet))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, err := c.app.client()
	if err != nil {
		return err
	}
	resp, err := client.Unlock(ctx, c.Args.Wallet, password)
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", c.Args.Wallet, err)
	}

	db, err := c.app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveSession(ctx, resp.WalletName, resp.Token); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	c.app.announceSession(ctx, http.MethodPut, map[string]string{
		"walletName": resp.WalletName,
		"token":      resp.Token,
	})

	fmt.Fprintf(c.app.out, "Unlocked %s.\n", resp.WalletName)
	if exp, ok := tokens.ExpiresAt(resp.Token); ok {
		fmt.Fprintf(c.app.out, "Session token expires at %s.\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

func readPassword(fromStdin bool, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type lockCmd struct {
	app *app
}

func (c *lockCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	db, err := c.app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	auth, err := c.app.storedAuth(ctx, db)
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}

	resp, err := client.Lock(ctx, auth)
	switch {
	case err == nil:
	case jmapi.IsStatus(err, http.StatusUnauthorized), jmapi.IsStatus(err, http.StatusNotFound):
		// The backend has already dropped the session.
		logger.Debugf("lock %s: %v", auth.WalletName, err)
		resp = &jmapi.LockResponse{WalletName: auth.WalletName, AlreadyLocked: true}
	default:
		return fmt.Errorf("failed to lock %s: %w", auth.WalletName, err)
	}

	if err := db.ClearSession(ctx, auth.WalletName); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.app.announceSession(ctx, http.MethodDelete, nil)
	if resp.AlreadyLocked {
		fmt.Fprintf(c.app.out, "%s was already locked.\n", auth.WalletName)
	} else {
		fmt.Fprintf(c.app.out, "Locked %s.\n", auth.WalletName)
	}
	return nil
}

type balanceCmd struct {
	app *app
}

func (c *balanceCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, auth, closeDB, err := c.app.authedClient(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	info, err := client.Display(ctx, auth)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	return render.WriteWallet(c.app.out, info)
}

type utxosCmd struct {
	app *app

	Bonds bool `long:"bonds" description:"Only list fidelity bonds"`
}

func (c *utxosCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, auth, closeDB, err := c.app.authedClient(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	utxos, err := client.UTXOs(ctx, auth)
	if err != nil {
		return fmt.Errorf("failed to list utxos: %w", err)
	}
	if c.Bonds {
		utxos = jmapi.FidelityBonds(utxos)
	}
	return render.WriteUTXOs(c.app.out, utxos)
}

type receiveCmd struct {
	app *app

	Mixdepth int  `long:"mixdepth" short:"m" default:"0" description:"Account to receive into"`
	NoQR     bool `long:"no-qr" description:"Do not print a QR code"`
}

func (c *receiveCmd) Execute([]string) error {
	if c.Mixdepth < 0 {
		return fmt.Errorf("mixdepth must be non-negative")
	}
	params, err := render.NetParams(c.app.cfg.Network)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, auth, closeDB, err := c.app.authedClient(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	addr, err := client.NewAddress(ctx, auth, c.Mixdepth)
	if err != nil {
		return fmt.Errorf("failed to get address: %w", err)
	}
	if err := render.ValidateAddress(addr, params); err != nil {
		return fmt.Errorf("wallet service returned an unexpected address: %w", err)
	}

	fmt.Fprintln(c.app.out, addr)
	if c.NoQR {
		return nil
	}
	qr, err := render.AddressQR(addr)
	if err != nil {
		logger.Warnf("%v", err)
		return nil
	}
	fmt.Fprint(c.app.out, qr)
	return nil
}

type reportCmd struct {
	app *app

	Rows int `long:"rows" short:"n" default:"25" description:"Number of rows to show (0 for all)"`
}

func (c *reportCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, err := c.app.client()
	if err != nil {
		return err
	}
	lines, err := client.YieldgenReport(ctx)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	return render.WriteReport(c.app.out, jmapi.ParseReport(lines, c.Rows))
}

type historyCmd struct {
	app *app

	Limit int `long:"limit" short:"n" default:"50" description:"Number of records to show"`
}

func (c *historyCmd) Execute([]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	db, err := c.app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.RecentStatus(ctx, c.Limit)
	if err != nil {
		return err
	}
	return render.WriteHistory(c.app.out, records)
}

// announceSession tells a running watch about a wallet change through its
// status API. No watch listening is not an error.
func (a *app) announceSession(ctx context.Context, method string, body any) {
	if a.cfg.StatusAddr == "" {
		return
	}
	endpoint := statusURL(a.cfg.StatusAddr) + "/api/session"

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			logger.Warnf("failed to encode session update: %v", err)
			return
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		logger.Warnf("failed to build session update: %v", err)
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: announceTimeout}
	resp, err := client.Do(req)
	if err != nil {
		logger.Debugf("no watch listening at %s: %v", endpoint, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		logger.Warnf("watch rejected session update: %s", resp.Status)
		return
	}
	logger.Debugf("watch at %s picked up the session change", endpoint)
}

// statusURL turns a listen address into a URL on the same machine.
func statusURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// authedClient returns a client plus the stored wallet session. closeDB
// releases the database.
func (a *app) authedClient(ctx context.Context) (*jmapi.Client, jmapi.Auth, func(), error) {
	db, err := a.openDB()
	if err != nil {
		return nil, jmapi.Auth{}, nil, err
	}
	auth, err := a.storedAuth(ctx, db)
	if err != nil {
		db.Close()
		return nil, jmapi.Auth{}, nil, err
	}
	client, err := a.client()
	if err != nil {
		db.Close()
		return nil, jmapi.Auth{}, nil, err
	}
	if tokens.Expired(auth.Token, time.Now()) {
		logger.Warnf("session token for %s has expired; run 'jmsession unlock %s'", auth.WalletName, auth.WalletName)
	}
	return client, auth, func() { _ = db.Close() }, nil
}
