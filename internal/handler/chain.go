package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
	"github.com/aamirshehzad9/GentleOmega/internal/reconciler"
)

// cycleRunner is the interface expected by ChainHandler, satisfied by
// *reconciler.Loop.
type cycleRunner interface {
	RunCycle(ctx context.Context) (*reconciler.CycleMetrics, error)
	Stats(ctx context.Context) *reconciler.Status
}

// statsStore reads aggregate submission state.
type statsStore interface {
	SubmissionStats(ctx context.Context) (*ledger.SubmissionStats, error)
}

// headReader reads the current chain head.
type headReader interface {
	ChainHead(ctx context.Context) (int64, error)
}

// ChainHandler exposes the reconciliation loop's administrative surface.
type ChainHandler struct {
	loop   cycleRunner
	store  statsStore
	chain  headReader
	logger *zap.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(loop cycleRunner, store statsStore, chain headReader, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{loop: loop, store: store, chain: chain, logger: logger}
}

// Register mounts the chain routes on the given router group. The manual
// cycle trigger requires admin auth.
func (h *ChainHandler) Register(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	ch := rg.Group("/chain")
	{
		ch.GET("/status", h.Status)
		ch.GET("/metrics", h.Metrics)
		ch.POST("/cycle", admin, h.Cycle)
	}
}

// Status handles GET /chain/status — loop and RPC connectivity snapshot.
// Always 200 with best-effort JSON, degraded subsystems included.
func (h *ChainHandler) Status(c *gin.Context) {
	status := h.loop.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":         status.Status,
		"rpc_ok":         status.RPCConnectivity,
		"rpc_latency_ms": status.ChainLatencyMS,
		"last_block":     status.LastBlock,
		"queued_tx":      status.Queued,
		"pending_tx":     status.Pending,
		"verified":       status.Confirmed,
		"failed_tx":      status.Failed,
	})
}

// Metrics handles GET /chain/metrics — detailed counts for dashboards.
func (h *ChainHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.store.SubmissionStats(ctx)
	if err != nil {
		h.logger.Error("submission stats", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "error", "error": "failed to query submission stats"})
		return
	}

	head := int64(-1)
	if n, err := h.chain.ChainHead(ctx); err == nil {
		head = n
	}

	c.JSON(http.StatusOK, gin.H{
		"status_counts": gin.H{
			"queued":    stats.Queued,
			"pending":   stats.Pending,
			"confirmed": stats.Confirmed,
			"failed":    stats.Failed,
		},
		"ledger_total":         stats.Total,
		"last_confirmed_block": stats.LastConfirmedBlock,
		"chain_head":           head,
		"synced":               stats.Queued == 0 && stats.Pending == 0,
		"generated_at":         time.Now().UTC().Format(time.RFC3339),
	})
}

// Cycle handles POST /chain/cycle — runs one reconciliation cycle on demand.
func (h *ChainHandler) Cycle(c *gin.Context) {
	metrics, err := h.loop.RunCycle(c.Request.Context())
	if err != nil {
		h.logger.Error("manual cycle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "chain cycle failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"metrics": metrics,
	})
}
