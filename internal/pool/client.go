// Package pool implements a typed HTTP client over the external broker
// connection-pool service. The pool is treated as a black
// box: this client's surface is exactly the endpoint set the core depends
// on, nothing more.
package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/copytrade/router/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
	retryBackoff   = 250 * time.Millisecond
)

// Client wraps net/http with bounded retries on idempotent GETs and a typed
// method per broker operation the core depends on.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// Config configures the pool client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxRetries bounds retry attempts on idempotent GET requests only.
	MaxRetries int
}

// New creates a pool Client. BaseURL is required and fatal if empty at the
// app level.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
	}
}

// GetAccountInfo fetches the balance/equity/margin snapshot for an account.
func (c *Client) GetAccountInfo(ctx context.Context, account, region string) (domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	path := fmt.Sprintf("/account/%s", url.PathEscape(account))
	body, err := c.doIdempotentGET(ctx, path, regionQuery(region))
	if err != nil {
		return snap, fmt.Errorf("pool: get account info %s: %w", account, err)
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("pool: decode account info %s: %w", account, err)
	}
	snap.AccountID = account
	return snap, nil
}

// GetPositions returns every open position on an account.
func (c *Client) GetPositions(ctx context.Context, account, region string) ([]domain.Position, error) {
	path := fmt.Sprintf("/positions/%s", url.PathEscape(account))
	body, err := c.doIdempotentGET(ctx, path, regionQuery(region))
	if err != nil {
		return nil, fmt.Errorf("pool: get positions %s: %w", account, err)
	}
	var resp struct {
		Positions []domain.Position `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("pool: decode positions %s: %w", account, err)
	}
	return resp.Positions, nil
}

// ExecuteTrade opens a new position. Not retried: a retried open could
// double-fill; dedup instead relies on the caller-generated correlation
// comment.
func (c *Client) ExecuteTrade(ctx context.Context, account, region string, req domain.TradeRequest) (domain.TradeResult, error) {
	var result domain.TradeResult
	payload := map[string]any{
		"account":    account,
		"region":     region,
		"symbol":     req.Symbol,
		"side":       req.Side,
		"volume":     req.Volume,
		"stopLoss":   req.StopLoss,
		"takeProfit": req.TakeProfit,
		"comment":    req.Comment,
	}
	body, err := c.doPost(ctx, "/trade/execute", payload)
	if err != nil {
		return domain.TradeResult{Success: false, Error: err.Error()}, fmt.Errorf("pool: execute trade: %w", err)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("pool: decode execute trade response: %w", err)
	}
	return result, nil
}

// ModifyPosition updates the SL/TP of an existing destination position.
func (c *Client) ModifyPosition(ctx context.Context, account, region, positionID string, stopLoss, takeProfit *float64) (bool, error) {
	payload := map[string]any{
		"account":    account,
		"region":     region,
		"positionId": positionID,
		"stopLoss":   stopLoss,
		"takeProfit": takeProfit,
	}
	body, err := c.doPost(ctx, "/position/modify", payload)
	if err != nil {
		return false, fmt.Errorf("pool: modify position %s: %w", positionID, err)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("pool: decode modify response %s: %w", positionID, err)
	}
	return resp.Success, nil
}

// ClosePosition closes a destination position. Callers that need retry
// semantics on failure use the pending-exit queue, not a client
// retry, since repeated close attempts against an already-closed position
// must be idempotent at the broker's discretion, not ours.
func (c *Client) ClosePosition(ctx context.Context, account, region, positionID string) (domain.CloseResult, error) {
	var result domain.CloseResult
	payload := map[string]any{
		"account":    account,
		"region":     region,
		"positionId": positionID,
	}
	body, err := c.doPost(ctx, "/position/close", payload)
	if err != nil {
		return domain.CloseResult{Success: false, Error: err.Error()}, fmt.Errorf("pool: close position %s: %w", positionID, err)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("pool: decode close response %s: %w", positionID, err)
	}
	return result, nil
}

// ClosePositionPartial closes a portion of a destination position's volume,
// used when a mirrored source position's partial close scales down rather
// than fully closes the destination. A zero or
// negative volume is a caller error, not sent to the pool.
func (c *Client) ClosePositionPartial(ctx context.Context, account, region, positionID string, volume float64) (domain.CloseResult, error) {
	var result domain.CloseResult
	if volume <= 0 {
		return result, fmt.Errorf("pool: close position partial %s: volume must be positive", positionID)
	}
	payload := map[string]any{
		"account":    account,
		"region":     region,
		"positionId": positionID,
		"volume":     volume,
	}
	body, err := c.doPost(ctx, "/position/close", payload)
	if err != nil {
		return domain.CloseResult{Success: false, Error: err.Error()}, fmt.Errorf("pool: close position partial %s: %w", positionID, err)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("pool: decode close partial response %s: %w", positionID, err)
	}
	return result, nil
}

// GetPrice returns the current bid/ask for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	var quote domain.PriceQuote
	path := fmt.Sprintf("/prices/%s", url.PathEscape(symbol))
	body, err := c.doIdempotentGET(ctx, path, nil)
	if err != nil {
		return quote, fmt.Errorf("pool: get price %s: %w", symbol, err)
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return quote, fmt.Errorf("pool: decode price %s: %w", symbol, err)
	}
	quote.Symbol = symbol
	return quote, nil
}

// Health checks pool service liveness.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doIdempotentGET(ctx, "/health", nil)
	if err != nil {
		return fmt.Errorf("pool: health: %w", err)
	}
	return nil
}

func regionQuery(region string) url.Values {
	if region == "" {
		return nil
	}
	v := url.Values{}
	v.Set("region", region)
	return v
}

// doIdempotentGET performs a GET request with up to maxRetries retries on
// transport errors or 5xx responses. 4xx errors
// are returned immediately, without a retry.
func (c *Client) doIdempotentGET(ctx context.Context, path string, query url.Values) ([]byte, error) {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, err
		}
		body, status, err := c.do(req)
		if err == nil && status < 500 {
			if status >= 400 {
				return nil, fmt.Errorf("pool: status %d: %s", status, string(body))
			}
			return body, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("pool: status %d: %s", status, string(body))
		}
	}
	return nil, lastErr
}

// doPost performs a non-retried POST (used for execute/modify/close, which
// must not be blindly retried — see each method's doc comment).
func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("status %d: %s", status, string(body))
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
