// Package swapper is a small HTTP client for the swapper REST API.
package swapper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Job statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the swapper API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sends key in the X-API-Key header of every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// SwapRequest is the payload of POST /api/v1/swaps. Amounts are base-unit
// integers encoded as decimal strings.
type SwapRequest struct {
	ID           string         `json:"id,omitempty"`
	Chain        string         `json:"chain,omitempty"`
	Caller       string         `json:"caller"`
	TokenIn      string         `json:"token_in"`
	TokenOut     string         `json:"token_out"`
	AmountIn     string         `json:"amount_in"`
	MinAmountOut string         `json:"min_amount_out"`
	Recipient    string         `json:"recipient"`
	Deadline     int64          `json:"deadline,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BalanceChange is a before/after balance reading recorded by the worker.
type BalanceChange struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// SwapResult is the outcome of a settled swap.
type SwapResult struct {
	Path      []string        `json:"path"`
	Amounts   []string        `json:"amounts"`
	AmountOut string          `json:"amount_out"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Balances  []BalanceChange `json:"balances,omitempty"`
}

// Job is the server-side view of a submitted swap.
type Job struct {
	ID           string         `json:"id"`
	Chain        string         `json:"chain"`
	Caller       string         `json:"caller"`
	TokenIn      string         `json:"token_in"`
	TokenOut     string         `json:"token_out"`
	AmountIn     string         `json:"amount_in"`
	MinAmountOut string         `json:"min_amount_out"`
	Recipient    string         `json:"recipient"`
	Deadline     int64          `json:"deadline,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	LastError    string         `json:"last_error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Result       *SwapResult    `json:"result,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Stats aggregates job counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListFilter narrows GET /api/v1/swaps. Zero values are omitted.
type ListFilter struct {
	Statuses []string
	Chain    string
	Caller   string
	Query    string
	Limit    int
	Offset   int
	Since    time.Time
	Until    time.Time
	Oldest   bool
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	if len(f.Statuses) > 0 {
		v.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Chain != "" {
		v.Set("chain", f.Chain)
	}
	if f.Caller != "" {
		v.Set("caller", f.Caller)
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if !f.Since.IsZero() {
		v.Set("since", strconv.FormatInt(f.Since.Unix(), 10))
	}
	if !f.Until.IsZero() {
		v.Set("until", strconv.FormatInt(f.Until.Unix(), 10))
	}
	if f.Oldest {
		v.Set("order", "asc")
	}
	return v
}

// QuoteRequest prices a swap without executing it.
type QuoteRequest struct {
	Chain       string `json:"chain,omitempty"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	SlippageBps uint32 `json:"slippage_bps"`
}

// Quote is the priced route.
type Quote struct {
	Chain        string   `json:"chain"`
	Path         []string `json:"path"`
	Amounts      []string `json:"amounts"`
	AmountOut    string   `json:"amount_out"`
	MinAmountOut string   `json:"min_amount_out"`
}

// ApproveRequest grants the chain executor an allowance on behalf of Owner.
type ApproveRequest struct {
	Chain  string `json:"chain,omitempty"`
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// Approval is the result of an approve call.
type Approval struct {
	Chain   string `json:"chain"`
	Spender string `json:"spender"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// Balance is a token balance and the owner's allowance to the executor.
type Balance struct {
	Chain     string `json:"chain"`
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Owner     string `json:"owner"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
	Formatted string `json:"formatted"`
}

// Token is a token's display metadata.
type Token struct {
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Chain describes one configured chain.
type Chain struct {
	Name        string `json:"name"`
	Default     bool   `json:"default"`
	Executor    string `json:"executor"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber string `json:"block_number,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Error       string `json:"error,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swapper api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swapper api error (%d): %s", e.StatusCode, e.Message)
}

// ErrorCode extracts the API error code from err, or "" when err did not
// come from the server.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewClient instantiates a client for the swapper API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitSwap queues a swap.
func (c *Client) SubmitSwap(ctx context.Context, req SwapRequest) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/api/v1/swaps", nil, req, &job)
	return job, err
}

// GetSwap fetches a job by identifier.
func (c *Client) GetSwap(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/api/v1/swaps/"+id, nil, nil, &job)
	return job, err
}

// ListSwaps lists jobs matching filter, most recently updated first unless
// filter.Oldest is set.
func (c *Client) ListSwaps(ctx context.Context, filter ListFilter) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/swaps", filter.values(), nil, &out)
	return out.Jobs, err
}

// SwapStats counts jobs matching filter.
func (c *Client) SwapStats(ctx context.Context, filter ListFilter) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/swaps/stats", filter.values(), nil, &stats)
	return stats, err
}

// WaitSwap polls the job until it is finished or ctx is done.
func (c *Client) WaitSwap(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetSwap(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Quote prices a swap.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	var quote Quote
	err := c.do(ctx, http.MethodPost, "/api/v1/quotes", nil, req, &quote)
	return quote, err
}

// Approve grants the executor an allowance.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (Approval, error) {
	var approval Approval
	err := c.do(ctx, http.MethodPost, "/api/v1/approvals", nil, req, &approval)
	return approval, err
}

// Balance reads owner's balance of token and its allowance to the executor.
func (c *Client) Balance(ctx context.Context, chain, token, owner string) (Balance, error) {
	q := url.Values{}
	if chain != "" {
		q.Set("chain", chain)
	}
	q.Set("token", token)
	q.Set("owner", owner)
	var balance Balance
	err := c.do(ctx, http.MethodGet, "/api/v1/balances", q, nil, &balance)
	return balance, err
}

// Token reads symbol and decimals of a token.
func (c *Client) Token(ctx context.Context, chain, address string) (Token, error) {
	var q url.Values
	if chain != "" {
		q = url.Values{"chain": {chain}}
	}
	var token Token
	err := c.do(ctx, http.MethodGet, "/api/v1/tokens/"+address, q, nil, &token)
	return token, err
}

// Chains lists the configured chains.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var out struct {
		Chains []Chain `json:"chains"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/chains", nil, nil, &out)
	return out.Chains, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
