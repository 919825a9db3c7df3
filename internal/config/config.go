package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerURL    = "https://127.0.0.1:28183"
	defaultWSURL        = "wss://127.0.0.1:28283"
	defaultPollInterval = 10 * time.Second
	defaultStatusAddr   = "127.0.0.1:28380"
	defaultTakerCode    = 0
	defaultMakerCode    = 1
)

type Config struct {
	// ServerURL is the base URL of the wallet service REST API.
	ServerURL string
	// WSURL is the push channel endpoint.
	WSURL string
	// TLSCertFile pins the wallet service's self-signed certificate.
	TLSCertFile string
	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool

	// Home is where jmsession keeps its database, logs and preferences.
	Home string
	// DatabasePath is the SQLite file under Home.
	DatabasePath string
	// LogFile is the rotating log file under Home.
	LogFile string

	// PollInterval is the session poll period.
	PollInterval time.Duration
	// TakerStateCode and MakerStateCode decode push coinjoin_state values.
	TakerStateCode int
	MakerStateCode int

	// StatusAddr is the listen address of the local status API.
	StatusAddr string
	// AllowedOrigins are the CORS origins of the status API.
	AllowedOrigins []string

	// PushoverToken and PushoverUser enable push notifications when both set.
	PushoverToken string
	PushoverUser  string

	// Network selects address validation parameters
	// (mainnet|testnet|signet|regtest).
	Network string

	// LogLevel is the logger threshold name.
	LogLevel string
	// Debug enables verbose logging.
	Debug bool
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	home := getenvFirst("JM_HOME_DIR", "JMSESSION_HOME")
	if home == "" {
		home = filepath.Join(homeDir, ".jmsession")
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("failed to create jmsession home: %w", err)
	}

	serverURL := getenvFirst("JM_SERVER_URL", "JMWALLETD_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if err := validateURL(serverURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("invalid JM_SERVER_URL: %w", err)
	}

	wsURL := getenvFirst("JM_WS_URL", "JMWALLETD_WS_URL")
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if err := validateURL(wsURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("invalid JM_WS_URL: %w", err)
	}

	pollInterval := defaultPollInterval
	if raw := os.Getenv("JM_POLL_INTERVAL"); raw != "" {
		pollInterval, err = time.ParseDuration(raw)
		if err != nil || pollInterval <= 0 {
			return nil, fmt.Errorf("invalid JM_POLL_INTERVAL %q", raw)
		}
	}

	takerCode, err := getenvInt("JM_TAKER_STATE_CODE", defaultTakerCode)
	if err != nil {
		return nil, err
	}
	makerCode, err := getenvInt("JM_MAKER_STATE_CODE", defaultMakerCode)
	if err != nil {
		return nil, err
	}
	if takerCode == makerCode {
		return nil, fmt.Errorf("JM_TAKER_STATE_CODE and JM_MAKER_STATE_CODE must differ (both %d)", takerCode)
	}

	statusAddr := os.Getenv("JM_STATUS_ADDR")
	if statusAddr == "" {
		statusAddr = defaultStatusAddr
	}

	network := strings.ToLower(strings.TrimSpace(os.Getenv("JM_NETWORK")))
	if network == "" {
		network = "mainnet"
	}
	switch network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return nil, fmt.Errorf("invalid JM_NETWORK %q (expected mainnet, testnet, signet, or regtest)", network)
	}

	debug := isTrue(os.Getenv("DEBUG")) || isTrue(os.Getenv("JM_DEBUG"))
	logLevel := os.Getenv("JM_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
		if debug {
			logLevel = "debug"
		}
	}

	return &Config{
		ServerURL:      strings.TrimRight(serverURL, "/"),
		WSURL:          wsURL,
		TLSCertFile:    os.Getenv("JM_TLS_CERT"),
		TLSSkipVerify:  isTrue(os.Getenv("JM_TLS_SKIP_VERIFY")),
		Home:           home,
		DatabasePath:   filepath.Join(home, "jmsession.db"),
		LogFile:        filepath.Join(home, "logs", "jmsession.log"),
		PollInterval:   pollInterval,
		TakerStateCode: takerCode,
		MakerStateCode: makerCode,
		StatusAddr:     statusAddr,
		AllowedOrigins: splitList(os.Getenv("JM_ALLOWED_ORIGINS")),
		PushoverToken:  os.Getenv("JM_PUSHOVER_TOKEN"),
		PushoverUser:   os.Getenv("JM_PUSHOVER_USER"),
		Network:        network,
		LogLevel:       logLevel,
		Debug:          debug,
	}, nil
}

// TLSConfig returns the client TLS settings for both REST and push
// connections, or nil when the defaults apply.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.TLSCertFile == "" && !c.TLSSkipVerify {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLSSkipVerify {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}
	pem, err := os.ReadFile(c.TLSCertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read JM_TLS_CERT: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.TLSCertFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// NotificationsEnabled reports whether Pushover credentials are configured.
func (c *Config) NotificationsEnabled() bool {
	return c.PushoverToken != "" && c.PushoverUser != ""
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, "/"))
}

func getenvInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}
