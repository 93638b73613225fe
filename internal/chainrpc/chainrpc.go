// Package chainrpc is a thin JSON-RPC client for anchoring ledger hashes on
// an EVM-style chain. Two interchangeable implementations exist: LiveClient
// talks to a real node, SimClient fabricates deterministic responses so the
// system runs fully offline. The reconciliation loop selects one at
// construction; call sites never branch on the endpoint URL.
package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPayloadTooLarge is returned by Submit when the hex-encoded calldata
// exceeds the size guard. Unlike transient RPC failures, retrying the same
// payload will never succeed.
var ErrPayloadTooLarge = errors.New("submission payload exceeds calldata size limit")

// maxPayloadHexChars caps the hex calldata of a submission at roughly 6KB.
const maxPayloadHexChars = 6144

// Fallback EIP-1559 fee constants, in wei, used when estimation fails and in
// simulated mode.
const (
	fallbackPriorityFeeWei = int64(1_500_000_000)  // 1.5 gwei
	fallbackMaxFeeWei      = int64(30_000_000_000) // 30 gwei
)

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber int64
}

// Fees holds an EIP-1559 fee pair in wei.
type Fees struct {
	PriorityFee int64
	MaxFee      int64
}

// Client is the chain access contract consumed by the reconciliation loop.
type Client interface {
	// ChainHead returns the latest block number.
	ChainHead(ctx context.Context) (int64, error)

	// Nonce returns the pending-inclusive transaction count for address.
	Nonce(ctx context.Context, address string) (uint64, error)

	// EstimateFees returns an EIP-1559 fee pair, falling back to fixed
	// constants when the node cannot provide estimates.
	EstimateFees(ctx context.Context) (Fees, error)

	// Submit broadcasts a zero-value, self-addressed transaction whose
	// calldata embeds the given hash, returning the transaction hash.
	// Fails with ErrPayloadTooLarge when the hash exceeds the size guard.
	Submit(ctx context.Context, payloadHash string) (string, error)

	// Receipt returns the receipt for txHash, or (nil, nil) while the
	// transaction is still unmined. A nil receipt is never an error.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)

	// Ping times a ChainHead call. On any failure it returns
	// (false, -1) rather than an error.
	Ping(ctx context.Context) (ok bool, latencyMS int64)

	// Close releases the underlying connection resources.
	Close()
}

// RPCError wraps a chain endpoint failure: transport error, non-2xx status,
// malformed JSON, or a node-reported error object.
type RPCError struct {
	Method string
	Code   int
	Err    error
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc %s: code %d: %v", e.Method, e.Code, e.Err)
	}
	return fmt.Sprintf("rpc %s: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

func rpcErr(method string, err error) error {
	return &RPCError{Method: method, Err: err}
}

// IsSimulated reports whether txHash was fabricated rather than broadcast.
// Simulated identifiers never have a receipt on a real chain; the
// reconciliation loop confirms them immediately at the simulated head.
func IsSimulated(txHash string) bool {
	return strings.HasPrefix(txHash, "sim_") ||
		strings.HasPrefix(txHash, "pod_") ||
		strings.HasPrefix(txHash, "poe_")
}
