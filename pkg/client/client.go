// Package client provides the GentleOmega Go SDK for recording proofs,
// browsing the hash-chained ledger, and driving chain reconciliation over a
// server's HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PodReceipt is the server's acknowledgement of a recorded Proof of Data.
type PodReceipt struct {
	Status          string `json:"status"`
	PodHash         string `json:"pod_hash"`
	TransactionHash string `json:"transaction_hash"`
	LedgerRef       int64  `json:"ledger_ref"`
	Timestamp       string `json:"timestamp"`
}

// PoeReceipt is the server's acknowledgement of a recorded Proof of Execution.
type PoeReceipt struct {
	Status          string `json:"status"`
	PodHash         string `json:"pod_hash"`
	PoeHash         string `json:"poe_hash"`
	TransactionHash string `json:"transaction_hash"`
	LedgerRef       int64  `json:"ledger_ref"`
	Verification    string `json:"verification"`
	Timestamp       string `json:"timestamp"`
}

// LedgerEntry is one hash-chained row as returned by GET /api/v1/ledger.
type LedgerEntry struct {
	ID           int64          `json:"id"`
	Hash         string         `json:"hash"`
	PreviousHash *string        `json:"previous_hash"`
	BlockData    map[string]any `json:"block_data"`
	ContentType  string         `json:"content_type"`
	Status       string         `json:"status"`
	TxHash       *string        `json:"tx_hash,omitempty"`
	BlockNumber  *int64         `json:"block_number,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IntegrityResult is the outcome of a full chain verification walk.
type IntegrityResult struct {
	Status      string   `json:"status"`
	Entries     int      `json:"entries"`
	Verified    int      `json:"verified"`
	BrokenLinks []string `json:"broken_links"`
	Integrity   string   `json:"integrity"`
}

// Intact reports whether the verified chain has no broken links.
func (r *IntegrityResult) Intact() bool {
	return r.Integrity == "intact"
}

// RepairResult is the outcome of POST /api/v1/chain/repair.
type RepairResult struct {
	Status       string           `json:"status"`
	Repaired     int              `json:"repaired"`
	Verification *IntegrityResult `json:"verification"`
}

// ChainStatus is the reconciliation loop's connectivity snapshot.
type ChainStatus struct {
	Status       string `json:"status"`
	RPCOk        bool   `json:"rpc_ok"`
	RPCLatencyMS int64  `json:"rpc_latency_ms"`
	LastBlock    int64  `json:"last_block"`
	QueuedTx     int64  `json:"queued_tx"`
	PendingTx    int64  `json:"pending_tx"`
	Verified     int64  `json:"verified"`
	FailedTx     int64  `json:"failed_tx"`
}

// ChainMetrics holds the dashboard view of ledger and chain state.
type ChainMetrics struct {
	StatusCounts       map[string]int64 `json:"status_counts"`
	LedgerTotal        int64            `json:"ledger_total"`
	LastConfirmedBlock int64            `json:"last_confirmed_block"`
	ChainHead          int64            `json:"chain_head"`
	Synced             bool             `json:"synced"`
	GeneratedAt        string           `json:"generated_at"`
}

// CycleResult is the per-step accounting of one reconciliation cycle.
type CycleResult struct {
	Status  string `json:"status"`
	Metrics struct {
		Enqueued     int   `json:"enqueued"`
		Submitted    int   `json:"submitted"`
		Confirmed    int   `json:"confirmed"`
		RPCOk        bool  `json:"rpc_ok"`
		RPCLatencyMS int64 `json:"rpc_latency_ms"`
	} `json:"metrics"`
}

// Task is an orchestrated unit of work as returned by GET /api/v1/tasks/:id.
type Task struct {
	ID          string         `json:"task_id"`
	Type        string         `json:"task_type"`
	Status      string         `json:"status"`
	PodHash     string         `json:"pod_hash,omitempty"`
	PoeHash     string         `json:"poe_hash,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has finished, successfully or not.
func (t *Task) Terminal() bool {
	return t.Status == "completed" || t.Status == "failed"
}

// Client is the GentleOmega SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithAdminToken attaches a pre-obtained admin JWT to every request. Required
// for RunCycle and RepairLedger.
func WithAdminToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated CA.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a new SDK Client connected to baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAdminToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RecordPoD records a Proof of Data commitment for the given payload.
func (c *Client) RecordPoD(ctx context.Context, data map[string]any, userID string) (*PodReceipt, error) {
	body := map[string]any{"data": data}
	if userID != "" {
		body["user_id"] = userID
	}
	var out PodReceipt
	if err := c.postJSON(ctx, "/api/v1/pod", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordPoE binds a previously recorded PoD to its execution result.
func (c *Client) RecordPoE(ctx context.Context, podHash string, result map[string]any, userID string) (*PoeReceipt, error) {
	body := map[string]any{
		"pod_hash":         podHash,
		"execution_result": result,
	}
	if userID != "" {
		body["user_id"] = userID
	}
	var out PoeReceipt
	if err := c.postJSON(ctx, "/api/v1/poe", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ledger returns up to limit entries, newest first, optionally filtered by
// submission status ("queued", "pending", "confirmed", "failed").
func (c *Client) Ledger(ctx context.Context, limit int, status string) ([]LedgerEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/v1/ledger"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wrapper struct {
		Entries []LedgerEntry `json:"entries"`
		Count   int           `json:"count"`
	}
	if err := c.getJSON(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Entries, nil
}

// VerifyLedger walks the full hash chain on the server and reports integrity.
func (c *Client) VerifyLedger(ctx context.Context) (*IntegrityResult, error) {
	var out IntegrityResult
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RepairLedger rewrites broken previous_hash links. Requires an admin token.
func (c *Client) RepairLedger(ctx context.Context) (*RepairResult, error) {
	var out RepairResult
	if err := c.postJSON(ctx, "/api/v1/chain/repair", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the reconciliation loop's connectivity snapshot.
func (c *Client) Status(ctx context.Context) (*ChainStatus, error) {
	var out ChainStatus
	if err := c.getJSON(ctx, "/api/v1/chain/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns ledger totals and synchronization state.
func (c *Client) Metrics(ctx context.Context) (*ChainMetrics, error) {
	var out ChainMetrics
	if err := c.getJSON(ctx, "/api/v1/chain/metrics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunCycle runs one reconciliation cycle immediately. Requires an admin token.
func (c *Client) RunCycle(ctx context.Context) (*CycleResult, error) {
	var out CycleResult
	if err := c.postJSON(ctx, "/api/v1/chain/cycle", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTask enqueues a task and returns its id without waiting for
// execution.
func (c *Client) SubmitTask(ctx context.Context, taskType string, data map[string]any) (string, error) {
	body := map[string]any{"task_type": taskType, "data": data}
	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, "/api/v1/tasks", body, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Task fetches the current state of a submitted task.
func (c *Client) Task(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.getJSON(ctx, "/api/v1/tasks/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitTask polls until the task reaches a terminal state or ctx expires.
func (c *Client) WaitTask(ctx context.Context, id string, poll time.Duration) (*Task, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		task, err := c.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return task, ctx.Err()
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
