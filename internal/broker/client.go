// Package broker holds the order-execution side: a REST client with
// TOTP session login, and a paper broker for dry runs. Both implement
// model.Broker; everything above them is broker-agnostic.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"anomaly-trader/internal/model"
)

var routes = map[string]string{
	"auth.login":   "/v1/auth/session",
	"auth.refresh": "/v1/auth/refresh",
	"orders.place": "/v1/orders",
	"account":      "/v1/account",
}

// Config configures the REST broker client.
type Config struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string        // base32 seed; a fresh code is generated per login
	Timeout    time.Duration // default 7s
}

// Client is a REST broker implementing model.Broker. The session token is
// acquired lazily and refreshed once on a 401/403 before the call is
// reported as failed.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewClient builds the client. No network call is made until the first
// request needs a session.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type orderRequest struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"` // "BUY" or "SELL"
	DollarAmount float64 `json:"dollar_amount,omitempty"`
	Shares       float64 `json:"shares,omitempty"`
	OrderType    string  `json:"order_type"` // always "MARKET"
}

type orderResponse struct {
	Status  string  `json:"status"` // "FILLED" or "REJECTED"
	Message string  `json:"message"`
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Shares  float64 `json:"filled_shares"`
	Price   float64 `json:"fill_price"`
	TS      int64   `json:"filled_at"` // unix seconds
}

// SubmitEntry buys ~dollarAmount of symbol at market.
func (c *Client) SubmitEntry(ctx context.Context, symbol string, dollarAmount float64, idempotencyKey string) (model.Fill, error) {
	return c.placeOrder(ctx, orderRequest{
		Symbol:       symbol,
		Side:         "BUY",
		DollarAmount: dollarAmount,
		OrderType:    "MARKET",
	}, idempotencyKey)
}

// SubmitExit sells shares of symbol at market.
func (c *Client) SubmitExit(ctx context.Context, symbol string, shares float64, idempotencyKey string) (model.Fill, error) {
	return c.placeOrder(ctx, orderRequest{
		Symbol:    symbol,
		Side:      "SELL",
		Shares:    shares,
		OrderType: "MARKET",
	}, idempotencyKey)
}

// AccountEquity returns current account equity in dollars.
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	var resp struct {
		Equity float64 `json:"equity"`
	}
	if err := c.doAuthed(ctx, http.MethodGet, routes["account"], nil, "", &resp); err != nil {
		return 0, err
	}
	return resp.Equity, nil
}

func (c *Client) placeOrder(ctx context.Context, req orderRequest, idempotencyKey string) (model.Fill, error) {
	var resp orderResponse
	if err := c.doAuthed(ctx, http.MethodPost, routes["orders.place"], req, idempotencyKey, &resp); err != nil {
		return model.Fill{}, err
	}
	if resp.Status == "REJECTED" {
		return model.Fill{}, model.RejectionError(resp.Message)
	}
	return model.Fill{
		OrderID: resp.OrderID,
		Symbol:  resp.Symbol,
		Shares:  resp.Shares,
		Price:   resp.Price,
		TS:      time.Unix(resp.TS, 0).UTC(),
	}, nil
}

// doAuthed performs an authenticated request, logging in on demand and
// retrying exactly once with a fresh session if the token is stale.
func (c *Client) doAuthed(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	token, err := c.session(ctx, false)
	if err != nil {
		return err
	}

	status, raw, err := c.do(ctx, method, path, body, token, idempotencyKey)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if token, err = c.session(ctx, true); err != nil {
			return err
		}
		status, raw, err = c.do(ctx, method, path, body, token, idempotencyKey)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrNotAvailable, err)
	}
	if status >= 500 {
		return fmt.Errorf("%w: broker returned %d", model.ErrNotAvailable, status)
	}
	if status >= 400 {
		return model.RejectionError(fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw))))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("broker: decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, token, idempotencyKey string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("broker: marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// session returns a valid access token, logging in with a freshly generated
// TOTP code when there is none (or force is set).
func (c *Client) session(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && !force {
		return c.accessToken, nil
	}

	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return "", fmt.Errorf("broker: generate totp: %w", err)
	}

	login := map[string]string{
		"client_code": c.cfg.ClientCode,
		"password":    c.cfg.Password,
		"totp":        code,
	}
	status, raw, err := c.do(ctx, http.MethodPost, routes["auth.login"], login, "", "")
	if err != nil {
		return "", fmt.Errorf("%w: login: %v", model.ErrNotAvailable, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("broker: login failed with status %d: %s", status, strings.TrimSpace(string(raw)))
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("broker: decode login response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("broker: login response had no token")
	}

	c.accessToken = resp.AccessToken
	log.Printf("[broker] session established for %s", c.cfg.ClientCode)
	return c.accessToken, nil
}
