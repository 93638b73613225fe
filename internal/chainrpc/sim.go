package chainrpc

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// simGenesisHead is the starting block number of a simulated chain.
const simGenesisHead = int64(1_000_000)

// SimClient fabricates deterministic chain responses so the system runs
// without a real endpoint. Submissions return sim_-prefixed identifiers and
// receipts always report success at the current fake head.
type SimClient struct {
	head   atomic.Int64
	logger *zap.Logger
}

// NewSim creates a SimClient with a fresh simulated chain.
func NewSim(logger *zap.Logger) *SimClient {
	c := &SimClient{logger: logger}
	c.head.Store(simGenesisHead)
	return c
}

// ChainHead implements Client. Each call advances the fake chain by one
// block, so repeated observations are monotonic.
func (c *SimClient) ChainHead(_ context.Context) (int64, error) {
	return c.head.Add(1), nil
}

// Nonce implements Client.
func (c *SimClient) Nonce(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

// EstimateFees implements Client.
func (c *SimClient) EstimateFees(_ context.Context) (Fees, error) {
	return Fees{PriorityFee: fallbackPriorityFeeWei, MaxFee: fallbackMaxFeeWei}, nil
}

// Submit implements Client. The fabricated identifier embeds a prefix of the
// payload hash and the submission time, keeping it recognizable and unique.
func (c *SimClient) Submit(_ context.Context, payloadHash string) (string, error) {
	if _, err := calldataHex(payloadHash); err != nil {
		return "", err
	}
	prefix := strings.TrimPrefix(payloadHash, "0x")
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	txHash := fmt.Sprintf("sim_%s_%d", prefix, time.Now().Unix())
	c.logger.Debug("simulated transaction fabricated", zap.String("tx_hash", txHash))
	return txHash, nil
}

// Receipt implements Client. Simulated transactions are always mined
// successfully at the current fake head.
func (c *SimClient) Receipt(_ context.Context, txHash string) (*Receipt, error) {
	return &Receipt{TxHash: txHash, Success: true, BlockNumber: c.head.Load()}, nil
}

// Ping implements Client.
func (c *SimClient) Ping(_ context.Context) (bool, int64) {
	return true, 0
}

// Close implements Client.
func (c *SimClient) Close() {}

// New selects the client implementation once at construction: a LiveClient
// when an endpoint is configured, otherwise a SimClient.
func New(rpcURL, wallet string, timeout time.Duration, logger *zap.Logger) Client {
	if rpcURL == "" {
		logger.Info("no chain endpoint configured, running in simulated mode")
		return NewSim(logger)
	}
	return NewLive(rpcURL, wallet, timeout, logger)
}
