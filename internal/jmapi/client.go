// Package jmapi is a client for the JoinMarket wallet service REST API.
package jmapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// apiPrefix is prepended to every endpoint path.
	apiPrefix = "/api/v1"
	// defaultHTTPTimeout bounds a single request. It stays below the session
	// poll interval so a hung request never overlaps the next tick.
	defaultHTTPTimeout = 8 * time.Second
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// ErrNoWallet is returned by wallet-scoped calls made without a wallet name
// and token.
var ErrNoWallet = errors.New("no wallet session")

// APIError is a non-2xx response from the wallet service.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error. The backend message is preferred; otherwise the
// HTTP status text is used.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one wallet service instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTLSConfig sets the TLS configuration used for https endpoints.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = cfg
		c.httpClient.Transport = transport
	}
}

// NewClient returns a client for the service at serverURL
// (e.g. https://127.0.0.1:28183).
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session fetches the service's session status.
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, http.MethodGet, "/session", "", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListWallets returns the wallet file names known to the service.
func (c *Client) ListWallets(ctx context.Context) ([]string, error) {
	var resp walletList
	if err := c.do(ctx, http.MethodGet, "/wallet/all", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Wallets, nil
}

// Unlock unlocks a wallet and returns its access token.
func (c *Client) Unlock(ctx context.Context, walletName, password string) (*UnlockResponse, error) {
	if strings.TrimSpace(walletName) == "" {
		return nil, fmt.Errorf("missing wallet name")
	}
	body := map[string]string{"password": password}
	var resp UnlockResponse
	path := fmt.Sprintf("/wallet/%s/unlock", url.PathEscape(walletName))
	if err := c.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("unlock returned empty token")
	}
	return &resp, nil
}

// Lock locks the wallet identified by auth.
func (c *Client) Lock(ctx context.Context, auth Auth) (*LockResponse, error) {
	if err := auth.validate(); err != nil {
		return nil, err
	}
	var resp LockResponse
	if err := c.do(ctx, http.MethodGet, walletPath(auth, "lock"), auth.Token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Display returns balances and addresses for the wallet.
func (c *Client) Display(ctx context.Context, auth Auth) (*WalletInfo, error) {
	if err := auth.validate(); err != nil {
		return nil, err
	}
	var resp displayResponse
	if err := c.do(ctx, http.MethodGet, walletPath(auth, "display"), auth.Token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.WalletInfo, nil
}

// UTXOs lists the wallet's outputs.
func (c *Client) UTXOs(ctx context.Context, auth Auth) ([]UTXO, error) {
	if err := auth.validate(); err != nil {
		return nil, err
	}
	var resp utxoResponse
	if err := c.do(ctx, http.MethodGet, walletPath(auth, "utxos"), auth.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.UTXOs, nil
}

// NewAddress derives a fresh receive address in the given mixdepth.
func (c *Client) NewAddress(ctx context.Context, auth Auth, mixdepth int) (string, error) {
	if err := auth.validate(); err != nil {
		return "", err
	}
	if mixdepth < 0 {
		return "", fmt.Errorf("mixdepth must be non-negative, got %d", mixdepth)
	}
	var resp addressResponse
	path := walletPath(auth, "address/new/"+strconv.Itoa(mixdepth))
	if err := c.do(ctx, http.MethodGet, path, auth.Token, nil, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

// StartMaker starts the yield generator. The service answers before the
// maker is up; the session poll or push feed reports when it is running.
func (c *Client) StartMaker(ctx context.Context, auth Auth, offer Offer) error {
	if err := auth.validate(); err != nil {
		return err
	}
	if err := offer.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, walletPath(auth, "maker/start"), auth.Token, offer, nil)
}

// StopMaker stops the yield generator.
func (c *Client) StopMaker(ctx context.Context, auth Auth) error {
	if err := auth.validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, walletPath(auth, "maker/stop"), auth.Token, nil, nil)
}

// YieldgenReport returns the raw CSV lines of the yield generator report.
// The service answers 404 until the maker has run once; that is reported as
// an empty report.
func (c *Client) YieldgenReport(ctx context.Context) ([]string, error) {
	var resp reportResponse
	err := c.do(ctx, http.MethodGet, "/wallet/yieldgen/report", "", nil, &resp)
	if IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func walletPath(auth Auth, suffix string) string {
	return fmt.Sprintf("/wallet/%s/%s", url.PathEscape(auth.WalletName), suffix)
}

// do performs a JSON request. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Message = strings.TrimSpace(payload.Message)
	}
	return apiErr
}
