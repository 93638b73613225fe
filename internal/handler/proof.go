package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
	"github.com/aamirshehzad9/GentleOmega/internal/proof"
)

// proofRecorder is the interface expected by ProofHandler, satisfied by
// *proof.Recorder.
type proofRecorder interface {
	RecordPoD(ctx context.Context, data map[string]any, userID *string) (*proof.PodReceipt, error)
	RecordPoE(ctx context.Context, podHash string, result map[string]any, userID *string) (*proof.PoeReceipt, error)
	VerifyChain(ctx context.Context) (*proof.IntegrityResult, error)
	RepairChain(ctx context.Context) (int, *proof.IntegrityResult, error)
}

// entryLister is the ledger browse surface.
type entryLister interface {
	List(ctx context.Context, limit int, status string) ([]*ledger.Entry, error)
}

// ProofHandler exposes PoD/PoE recording and chain verification over HTTP.
type ProofHandler struct {
	recorder proofRecorder
	entries  entryLister
	logger   *zap.Logger
}

// NewProofHandler creates a ProofHandler.
func NewProofHandler(recorder proofRecorder, entries entryLister, logger *zap.Logger) *ProofHandler {
	return &ProofHandler{recorder: recorder, entries: entries, logger: logger}
}

// Register mounts the proof routes on the given router group. The repair
// route mutates stored chain links and requires admin auth.
func (h *ProofHandler) Register(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	rg.POST("/pod", h.RecordPod)
	rg.POST("/poe", h.RecordPoe)
	rg.GET("/ledger", h.Ledger)
	rg.GET("/ledger/verify", h.Verify)
	rg.POST("/chain/repair", admin, h.Repair)
}

type podRequest struct {
	Data   map[string]any `json:"data" binding:"required"`
	UserID *string        `json:"user_id"`
}

// RecordPod handles POST /pod — records a Proof of Data commitment.
func (h *ProofHandler) RecordPod(c *gin.Context) {
	var req podRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data object is required"})
		return
	}

	receipt, err := h.recorder.RecordPoD(c.Request.Context(), req.Data, req.UserID)
	if err != nil {
		h.logger.Error("record pod", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record proof of data"})
		return
	}
	observeProof("pod")
	c.JSON(http.StatusCreated, receipt)
}

type poeRequest struct {
	PodHash         string         `json:"pod_hash" binding:"required"`
	ExecutionResult map[string]any `json:"execution_result" binding:"required"`
	UserID          *string        `json:"user_id"`
}

// RecordPoe handles POST /poe — binds a PoD to its execution result.
func (h *ProofHandler) RecordPoe(c *gin.Context) {
	var req poeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pod_hash and execution_result are required"})
		return
	}

	receipt, err := h.recorder.RecordPoE(c.Request.Context(), req.PodHash, req.ExecutionResult, req.UserID)
	if err != nil {
		h.logger.Error("record poe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record proof of execution"})
		return
	}
	observeProof("poe")
	c.JSON(http.StatusCreated, receipt)
}

// Ledger handles GET /ledger — browses entries, newest first, optionally
// filtered by submission status.
func (h *ProofHandler) Ledger(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := h.entries.List(c.Request.Context(), limit, c.Query("status"))
	if err != nil {
		h.logger.Error("list ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Verify handles GET /ledger/verify — walks the full chain. Integrity
// violations are reported in the body with status 200; only a store failure
// is an HTTP error.
func (h *ProofHandler) Verify(c *gin.Context) {
	result, err := h.recorder.VerifyChain(c.Request.Context())
	if err != nil {
		h.logger.Error("verify chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Repair handles POST /chain/repair — rewrites broken previous_hash links.
func (h *ProofHandler) Repair(c *gin.Context) {
	repaired, result, err := h.recorder.RepairChain(c.Request.Context())
	if err != nil {
		h.logger.Error("repair chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to repair ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"repaired":     repaired,
		"verification": result,
	})
}
