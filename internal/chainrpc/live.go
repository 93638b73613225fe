package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// submitGasLimit covers a zero-value transfer plus calldata.
const submitGasLimit = uint64(120_000)

// LiveClient talks JSON-RPC 2.0 to a real EVM node. One instance holds one
// reusable HTTP client per process; Close releases idle connections.
type LiveClient struct {
	rpcURL string
	wallet string
	http   *http.Client
	logger *zap.Logger
	nextID atomic.Int64
}

// NewLive creates a LiveClient for the node at rpcURL, signing its
// submissions from wallet (an unlocked account on the node). A zero timeout
// defaults to 20 seconds.
func NewLive(rpcURL, wallet string, timeout time.Duration, logger *zap.Logger) *LiveClient {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &LiveClient{
		rpcURL: rpcURL,
		wallet: wallet,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC request and decodes the result field into out.
func (c *LiveClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return rpcErr(method, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return rpcErr(method, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return rpcErr(method, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &RPCError{Method: method, Code: resp.StatusCode,
			Err: fmt.Errorf("node returned status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return rpcErr(method, fmt.Errorf("read response: %w", err))
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return rpcErr(method, fmt.Errorf("decode response: %w", err))
	}
	if rr.Error != nil {
		return &RPCError{Method: method, Code: rr.Error.Code,
			Err: fmt.Errorf("node error: %s", rr.Error.Message)}
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return rpcErr(method, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

// ChainHead implements Client.
func (c *LiveClient) ChainHead(ctx context.Context) (int64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexNum); err != nil {
		return -1, err
	}
	n, err := parseHexInt(hexNum)
	if err != nil {
		return -1, rpcErr("eth_blockNumber", err)
	}
	return n, nil
}

// Nonce implements Client.
func (c *LiveClient) Nonce(ctx context.Context, address string) (uint64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_getTransactionCount", []any{address, "pending"}, &hexNum); err != nil {
		return 0, err
	}
	n, err := parseHexInt(hexNum)
	if err != nil {
		return 0, rpcErr("eth_getTransactionCount", err)
	}
	return uint64(n), nil
}

// EstimateFees implements Client. Priority fee comes from
// eth_maxPriorityFeePerGas and the base fee from eth_feeHistory; either
// failure falls back to fixed constants rather than blocking submission.
func (c *LiveClient) EstimateFees(ctx context.Context) (Fees, error) {
	fees := Fees{PriorityFee: fallbackPriorityFeeWei, MaxFee: fallbackMaxFeeWei}

	var hexPriority string
	if err := c.call(ctx, "eth_maxPriorityFeePerGas", []any{}, &hexPriority); err != nil {
		c.logger.Debug("priority fee estimation failed, using fallback", zap.Error(err))
		return fees, nil
	}
	priority, err := parseHexInt(hexPriority)
	if err != nil {
		return fees, nil
	}
	fees.PriorityFee = priority

	var history struct {
		BaseFeePerGas []string `json:"baseFeePerGas"`
	}
	if err := c.call(ctx, "eth_feeHistory", []any{"0x1", "latest", []any{}}, &history); err != nil ||
		len(history.BaseFeePerGas) == 0 {
		c.logger.Debug("fee history unavailable, using fallback max fee", zap.Error(err))
		return fees, nil
	}
	base, err := parseHexInt(history.BaseFeePerGas[len(history.BaseFeePerGas)-1])
	if err != nil {
		return fees, nil
	}
	fees.MaxFee = 2*base + priority
	return fees, nil
}

// Submit implements Client. The transaction is zero-value and self-addressed;
// the payload hash travels in the calldata.
func (c *LiveClient) Submit(ctx context.Context, payloadHash string) (string, error) {
	data, err := calldataHex(payloadHash)
	if err != nil {
		return "", err
	}

	nonce, err := c.Nonce(ctx, c.wallet)
	if err != nil {
		return "", err
	}
	fees, err := c.EstimateFees(ctx)
	if err != nil {
		return "", err
	}

	tx := map[string]any{
		"from":                 c.wallet,
		"to":                   c.wallet,
		"value":                "0x0",
		"data":                 data,
		"nonce":                hexInt(int64(nonce)),
		"gas":                  hexInt(int64(submitGasLimit)),
		"maxPriorityFeePerGas": hexInt(fees.PriorityFee),
		"maxFeePerGas":         hexInt(fees.MaxFee),
	}

	var txHash string
	if err := c.call(ctx, "eth_sendTransaction", []any{tx}, &txHash); err != nil {
		return "", err
	}
	c.logger.Info("transaction broadcast",
		zap.String("tx_hash", txHash),
		zap.Uint64("nonce", nonce),
	)
	return txHash, nil
}

// Receipt implements Client. A null result means the transaction is still
// unmined and is reported as (nil, nil).
func (c *LiveClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw *struct {
		Status      string `json:"status"`
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	status, err := parseHexInt(raw.Status)
	if err != nil {
		return nil, rpcErr("eth_getTransactionReceipt", fmt.Errorf("bad status %q: %w", raw.Status, err))
	}
	var block int64 = -1
	if raw.BlockNumber != "" {
		if block, err = parseHexInt(raw.BlockNumber); err != nil {
			return nil, rpcErr("eth_getTransactionReceipt", fmt.Errorf("bad block number %q: %w", raw.BlockNumber, err))
		}
	}
	return &Receipt{TxHash: txHash, Success: status == 1, BlockNumber: block}, nil
}

// Ping implements Client.
func (c *LiveClient) Ping(ctx context.Context) (bool, int64) {
	start := time.Now()
	if _, err := c.ChainHead(ctx); err != nil {
		return false, -1
	}
	return true, time.Since(start).Milliseconds()
}

// Close implements Client.
func (c *LiveClient) Close() {
	c.http.CloseIdleConnections()
}

// calldataHex turns a payload hash into even-length-padded hex calldata,
// enforcing the size guard.
func calldataHex(payloadHash string) (string, error) {
	h := strings.TrimPrefix(payloadHash, "0x")
	if len(h)%2 != 0 {
		h = "0" + h
	}
	if len(h) > maxPayloadHexChars {
		return "", fmt.Errorf("%w: %d hex chars, limit %d", ErrPayloadTooLarge, len(h), maxPayloadHexChars)
	}
	return "0x" + h, nil
}

// parseHexInt decodes an 0x-prefixed quantity.
func parseHexInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(s, "0x"), 16, 64)
}

// hexInt encodes n as an 0x-prefixed quantity.
func hexInt(n int64) string {
	return "0x" + strconv.FormatInt(n, 16)
}
