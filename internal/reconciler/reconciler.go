// Package reconciler runs the autonomous chain-reconciliation loop: it
// mirrors off-chain PoE records into the proof ledger, broadcasts queued
// entries, and watches pending transactions for receipts, driving each
// submission through queued → pending → confirmed/failed.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/chainrpc"
	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
)

// Batch bounds per cycle step.
const (
	enqueueBatchSize = 500
	submitBatchSize  = 100
	verifyBatchSize  = 200
)

// submitThrottle spaces out broadcasts so a burst of queued entries does not
// hammer the RPC endpoint.
const submitThrottle = 100 * time.Millisecond

// Store is the ledger surface the loop consumes.
type Store interface {
	ScanOffChain(ctx context.Context, limit int) ([]*ledger.CacheRecord, error)
	EnsureSubmission(ctx context.Context, poeHash string) (bool, error)
	MarkOnChain(ctx context.Context, poeHash string) error
	QueuedSubmissions(ctx context.Context, limit int) ([]*ledger.Submission, error)
	MarkPending(ctx context.Context, id int64, txHash string) error
	PendingSubmissions(ctx context.Context, limit int) ([]*ledger.Submission, error)
	ConfirmSubmission(ctx context.Context, id int64, blockNumber int64) error
	FailSubmission(ctx context.Context, id int64) error
	SubmissionStats(ctx context.Context) (*ledger.SubmissionStats, error)
}

// Chain is the RPC surface the loop consumes.
type Chain interface {
	ChainHead(ctx context.Context) (int64, error)
	Submit(ctx context.Context, payloadHash string) (string, error)
	Receipt(ctx context.Context, txHash string) (*chainrpc.Receipt, error)
	Ping(ctx context.Context) (ok bool, latencyMS int64)
}

// CycleMetrics aggregates the outcome of one reconciliation cycle.
type CycleMetrics struct {
	Enqueued     int   `json:"enqueued"`
	Submitted    int   `json:"submitted"`
	Confirmed    int   `json:"confirmed"`
	RPCOk        bool  `json:"rpc_ok"`
	RPCLatencyMS int64 `json:"rpc_latency_ms"`
}

// Status is the administrative snapshot of the loop and its chain backend.
type Status struct {
	Status          string `json:"status"`
	RPCConnectivity bool   `json:"rpc_connectivity"`
	ChainLatencyMS  int64  `json:"chain_latency_ms"`
	LastBlock       int64  `json:"last_block"`
	*ledger.SubmissionStats
}

// Config tunes the periodic loop.
type Config struct {
	Interval     time.Duration // sleep between cycles
	ErrorBackoff time.Duration // shorter sleep after a failed cycle
}

// Loop coordinates the ledger store and the chain client. Cycles never
// overlap: RunCycle holds a mutex for the full enqueue → submit → verify
// pass, so a manual trigger cannot race the periodic schedule.
type Loop struct {
	store  Store
	chain  Chain
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex
}

// New creates a reconciliation loop. Zero config fields get defaults of
// 10 minutes between cycles and a 1 minute error backoff.
func New(store Store, chain Chain, cfg Config, logger *zap.Logger) *Loop {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = time.Minute
	}
	return &Loop{store: store, chain: chain, cfg: cfg, logger: logger}
}

// RunCycle executes one full enqueue → submit → verify pass and returns the
// aggregate counts. Per-row failures are logged and skipped; only a failure
// of a whole step surfaces as an error.
func (l *Loop) RunCycle(ctx context.Context) (*CycleMetrics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rpcOk, latency := l.chain.Ping(ctx)
	if !rpcOk {
		l.logger.Warn("chain endpoint unreachable, continuing with limited functionality")
	}

	enqueued, err := l.enqueueMissing(ctx)
	if err != nil {
		return nil, err
	}
	submitted := l.submitQueued(ctx)
	confirmed := l.verifyPending(ctx)

	metrics := &CycleMetrics{
		Enqueued:     enqueued,
		Submitted:    submitted,
		Confirmed:    confirmed,
		RPCOk:        rpcOk,
		RPCLatencyMS: latency,
	}
	observeCycle(metrics)

	l.logger.Info("reconciliation cycle complete",
		zap.Int("enqueued", enqueued),
		zap.Int("submitted", submitted),
		zap.Int("confirmed", confirmed),
		zap.Bool("rpc_ok", rpcOk),
		zap.Int64("rpc_latency_ms", latency),
	)
	return metrics, nil
}

// enqueueMissing mirrors off-chain cache records into the ledger as queued
// submissions. Records already tracked are skipped, so repeated runs with no
// new cache records enqueue nothing.
func (l *Loop) enqueueMissing(ctx context.Context) (int, error) {
	recs, err := l.store.ScanOffChain(ctx, enqueueBatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, rec := range recs {
		created, err := l.store.EnsureSubmission(ctx, rec.PoEHash)
		if err != nil {
			l.logger.Error("enqueue failed",
				zap.String("poe_hash", shortHash(rec.PoEHash)), zap.Error(err))
			continue
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

// submitQueued broadcasts queued entries, moving each to pending with its
// transaction hash. A failed broadcast leaves the entry queued for the next
// cycle; an oversized payload is logged loudly since retrying cannot help.
func (l *Loop) submitQueued(ctx context.Context) int {
	subs, err := l.store.QueuedSubmissions(ctx, submitBatchSize)
	if err != nil {
		l.logger.Error("select queued submissions", zap.Error(err))
		return 0
	}

	submitted := 0
	for _, sub := range subs {
		txHash, err := l.chain.Submit(ctx, sub.PoEHash)
		if err != nil {
			if errors.Is(err, chainrpc.ErrPayloadTooLarge) {
				l.logger.Error("submission payload over size limit, will never succeed",
					zap.Int64("id", sub.ID), zap.String("poe_hash", shortHash(sub.PoEHash)))
			} else {
				l.logger.Error("broadcast failed",
					zap.Int64("id", sub.ID), zap.String("poe_hash", shortHash(sub.PoEHash)), zap.Error(err))
			}
			continue
		}

		if err := l.store.MarkPending(ctx, sub.ID, txHash); err != nil {
			l.logger.Error("mark pending failed", zap.Int64("id", sub.ID), zap.Error(err))
			continue
		}
		l.logger.Info("submission broadcast",
			zap.Int64("id", sub.ID),
			zap.String("poe_hash", shortHash(sub.PoEHash)),
			zap.String("tx_hash", shortHash(txHash)),
		)
		submitted++

		select {
		case <-time.After(submitThrottle):
		case <-ctx.Done():
			return submitted
		}
	}
	return submitted
}

// verifyPending resolves pending submissions against the chain. Simulated
// transactions confirm immediately at the current simulated head; real ones
// wait for a mined receipt.
func (l *Loop) verifyPending(ctx context.Context) int {
	subs, err := l.store.PendingSubmissions(ctx, verifyBatchSize)
	if err != nil {
		l.logger.Error("select pending submissions", zap.Error(err))
		return 0
	}

	confirmed := 0
	for _, sub := range subs {
		if sub.TxHash == nil {
			l.logger.Warn("pending submission missing tx hash", zap.Int64("id", sub.ID))
			continue
		}
		txHash := *sub.TxHash

		if chainrpc.IsSimulated(txHash) {
			head, err := l.chain.ChainHead(ctx)
			if err != nil {
				l.logger.Error("chain head lookup failed", zap.Error(err))
				continue
			}
			if l.confirm(ctx, sub, head) {
				confirmed++
			}
			continue
		}

		receipt, err := l.chain.Receipt(ctx, txHash)
		if err != nil {
			l.logger.Error("receipt lookup failed",
				zap.Int64("id", sub.ID), zap.String("tx_hash", shortHash(txHash)), zap.Error(err))
			continue
		}
		if receipt == nil {
			// Still mining; check again next cycle.
			continue
		}

		switch {
		case receipt.Success && receipt.BlockNumber >= 0:
			if l.confirm(ctx, sub, receipt.BlockNumber) {
				confirmed++
			}
		case !receipt.Success:
			if err := l.store.FailSubmission(ctx, sub.ID); err != nil {
				l.logger.Error("mark failed", zap.Int64("id", sub.ID), zap.Error(err))
				continue
			}
			observeSubmission("failed")
			l.logger.Warn("transaction reverted",
				zap.Int64("id", sub.ID),
				zap.String("tx_hash", shortHash(txHash)),
				zap.Int64("block", receipt.BlockNumber),
			)
		}
	}
	return confirmed
}

// confirm finalises one submission at blockNumber and flags its cache record
// as anchored.
func (l *Loop) confirm(ctx context.Context, sub *ledger.Submission, blockNumber int64) bool {
	if err := l.store.ConfirmSubmission(ctx, sub.ID, blockNumber); err != nil {
		l.logger.Error("confirm failed", zap.Int64("id", sub.ID), zap.Error(err))
		return false
	}
	if err := l.store.MarkOnChain(ctx, sub.PoEHash); err != nil {
		l.logger.Error("flag on-chain failed",
			zap.String("poe_hash", shortHash(sub.PoEHash)), zap.Error(err))
	}
	observeSubmission("confirmed")
	l.logger.Info("submission confirmed",
		zap.Int64("id", sub.ID),
		zap.Int64("block", blockNumber),
	)
	return true
}

// Run executes cycles until ctx is cancelled. A failed cycle sleeps the
// shorter error backoff before the next attempt; cancellation interrupts
// either sleep immediately.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("chain reconciliation loop starting",
		zap.Duration("interval", l.cfg.Interval))

	for cycle := 1; ; cycle++ {
		sleep := l.cfg.Interval
		if _, err := l.RunCycle(ctx); err != nil {
			l.logger.Error("reconciliation cycle failed",
				zap.Int("cycle", cycle), zap.Error(err))
			sleep = l.cfg.ErrorBackoff
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			l.logger.Info("chain reconciliation loop stopped")
			return
		}
	}
}

// Stats reports the loop's administrative snapshot. Store failures degrade
// the snapshot rather than erroring: callers always get best-effort JSON.
func (l *Loop) Stats(ctx context.Context) *Status {
	rpcOk, latency := l.chain.Ping(ctx)

	status := &Status{
		Status:          "operational",
		RPCConnectivity: rpcOk,
		ChainLatencyMS:  latency,
		LastBlock:       -1,
	}
	if !rpcOk {
		status.Status = "degraded"
	} else if head, err := l.chain.ChainHead(ctx); err == nil {
		status.LastBlock = head
	}

	stats, err := l.store.SubmissionStats(ctx)
	if err != nil {
		l.logger.Error("submission stats", zap.Error(err))
		status.Status = "degraded"
		stats = &ledger.SubmissionStats{LastConfirmedBlock: -1}
	}
	status.SubmissionStats = stats
	return status
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}
