package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/abhiShandy/joinmarket-webui/internal/config"
	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/render"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/abhiShandy/joinmarket-webui/internal/version"
	"github.com/abhiShandy/joinmarket-webui/internal/websocket"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	flags "github.com/jessevdk/go-flags"
)

// options are the global flags shared by every command.
type options struct {
	ServerURL string `long:"server" description:"Wallet service URL (overrides JM_SERVER_URL)"`
	WSURL     string `long:"ws" description:"Push channel URL (overrides JM_WS_URL)"`
	LogLevel  string `long:"log-level" description:"Log level: trace, debug, info, warn, error"`
	Debug     bool   `long:"debug" description:"Enable debug logging"`
	NoColor   bool   `long:"no-color" description:"Disable colored output"`
}

// app carries what commands share once the configuration is loaded.
type app struct {
	opts     options
	cfg      *config.Config
	out      io.Writer
	closeLog func()
}

func main() {
	a := &app{out: os.Stdout}
	parser := newParser(a)

	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		// flags.PrintErrors has already written err to stderr.
		os.Exit(1)
	}
}

func newParser(a *app) *flags.Parser {
	parser := flags.NewParser(&a.opts, flags.Default)
	parser.Name = "jmsession"
	parser.ShortDescription = "JoinMarket wallet session monitor"

	mustAdd := func(c *flags.Command, err error) *flags.Command {
		if err != nil {
			panic(err)
		}
		return c
	}

	mustAdd(parser.AddCommand("watch", "Track the wallet session",
		"Poll the wallet service, follow push events and print every status change. "+
			"Also serves the local status API.", &watchCmd{app: a}))
	mustAdd(parser.AddCommand("status", "Print the current status once",
		"Poll the wallet service once and print the derived status.", &statusCmd{app: a}))
	mustAdd(parser.AddCommand("wallets", "List wallets",
		"List the wallet files known to the wallet service.", &walletsCmd{app: a}))
	mustAdd(parser.AddCommand("unlock", "Unlock a wallet",
		"Unlock a wallet and store its session token.", &unlockCmd{app: a}))
	mustAdd(parser.AddCommand("lock", "Lock the held wallet",
		"Lock the wallet of the stored session and forget the token.", &lockCmd{app: a}))
	mustAdd(parser.AddCommand("balance", "Show wallet balances",
		"Show per-account balances of the held wallet.", &balanceCmd{app: a}))
	mustAdd(parser.AddCommand("utxos", "List UTXOs",
		"List the outputs of the held wallet.", &utxosCmd{app: a}))
	mustAdd(parser.AddCommand("receive", "Show a new receive address",
		"Request a fresh address for a mixdepth and print it with a QR code.", &receiveCmd{app: a}))
	mustAdd(parser.AddCommand("report", "Show the yield generator report",
		"Print the most recent yield generator report rows, newest first.", &reportCmd{app: a}))
	mustAdd(parser.AddCommand("history", "Show recorded status changes",
		"Print status changes recorded by watch.", &historyCmd{app: a}))
	mustAdd(parser.AddCommand("version", "Print version", "", &versionCmd{}))

	maker := mustAdd(parser.AddCommand("maker", "Control the yield generator",
		"Start or stop the maker of the held wallet.", &struct{}{}))
	mustAdd(maker.AddCommand("start", "Start the maker",
		"Start the yield generator with the saved offer settings, overridden by flags.", &makerStartCmd{app: a}))
	mustAdd(maker.AddCommand("stop", "Stop the maker",
		"Stop the yield generator.", &makerStopCmd{app: a}))

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if _, ok := cmd.(*versionCmd); ok {
			return cmd.Execute(args)
		}
		if err := a.setup(); err != nil {
			return err
		}
		defer a.teardown()
		return cmd.Execute(args)
	}
	return parser
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.opts.ServerURL != "" {
		cfg.ServerURL = a.opts.ServerURL
	}
	if a.opts.WSURL != "" {
		cfg.WSURL = a.opts.WSURL
	}
	if a.opts.Debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if a.opts.LogLevel != "" {
		cfg.LogLevel = a.opts.LogLevel
	}
	a.cfg = cfg

	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	closeLog, err := logger.InitFile(cfg.LogFile, true)
	if err != nil {
		return err
	}
	a.closeLog = closeLog
	logger.Debugf("jmsession %s, server %s, home %s", version.Version(), cfg.ServerURL, cfg.Home)
	return nil
}

func (a *app) teardown() {
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) printer() *render.Printer {
	return render.NewPrinter(a.out, !a.opts.NoColor)
}

func (a *app) client() (*jmapi.Client, error) {
	tlsCfg, err := a.cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	var opts []jmapi.Option
	if tlsCfg != nil {
		opts = append(opts, jmapi.WithTLSConfig(tlsCfg))
	}
	return jmapi.NewClient(a.cfg.ServerURL, opts...), nil
}

func (a *app) pushClient() (*websocket.Client, error) {
	tlsCfg, err := a.cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	return websocket.NewClient(websocket.Config{URL: a.cfg.WSURL, TLSConfig: tlsCfg}), nil
}

func (a *app) openDB() (*storage.DB, error) {
	db, err := storage.Open(a.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (a *app) reconcilerConfig() reconciler.Config {
	return reconciler.Config{
		PollInterval: a.cfg.PollInterval,
		Codes: reconciler.StateCodes{
			Taker: a.cfg.TakerStateCode,
			Maker: a.cfg.MakerStateCode,
		},
	}
}

// storedAuth returns the wallet session saved by unlock.
func (a *app) storedAuth(ctx context.Context, db *storage.DB) (jmapi.Auth, error) {
	name, token, ok, err := db.LoadSession(ctx)
	if err != nil {
		return jmapi.Auth{}, err
	}
	if !ok || name == "" || token == "" {
		return jmapi.Auth{}, fmt.Errorf("%w: run 'jmsession unlock <wallet>' first", jmapi.ErrNoWallet)
	}
	return jmapi.Auth{WalletName: name, Token: token}, nil
}

type versionCmd struct{}

func (versionCmd) Execute([]string) error {
	fmt.Printf("jmsession %s\n", version.RichVersion())
	return nil
}
