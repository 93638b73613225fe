// Package proof records Proof of Data and Proof of Execution commitments in
// the ledger and stages them for chain anchoring. PoD commits to an input
// payload before processing; PoE binds that commitment to the processing
// result afterwards.
package proof

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/hashchain"
	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
)

// Store is the ledger surface the recorder consumes.
type Store interface {
	Append(ctx context.Context, data map[string]any, contentType string, userID, poeHash *string) (*ledger.Entry, error)
	PutCacheRecord(ctx context.Context, rec *ledger.CacheRecord) error
	VerifyIntegrity(ctx context.Context) (*ledger.IntegrityReport, error)
	RepairLinks(ctx context.Context) (int, error)
}

// PodReceipt acknowledges a recorded Proof of Data.
type PodReceipt struct {
	Status          string `json:"status"`
	PodHash         string `json:"pod_hash"`
	TransactionHash string `json:"transaction_hash"`
	LedgerRef       int64  `json:"ledger_ref"`
	Timestamp       string `json:"timestamp"`
}

// PoeReceipt acknowledges a recorded Proof of Execution.
type PoeReceipt struct {
	Status          string `json:"status"`
	PodHash         string `json:"pod_hash"`
	PoeHash         string `json:"poe_hash"`
	TransactionHash string `json:"transaction_hash"`
	LedgerRef       int64  `json:"ledger_ref"`
	Verification    string `json:"verification"`
	Timestamp       string `json:"timestamp"`
}

// IntegrityResult is the administrative view of a chain verification pass.
type IntegrityResult struct {
	Status      string   `json:"status"`
	Entries     int      `json:"entries"`
	Verified    int      `json:"verified"`
	BrokenLinks []string `json:"broken_links"`
	Integrity   string   `json:"integrity"`
}

// Recorder writes PoD/PoE commitments to the ledger.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// RecordPoD hashes the input payload and appends a pod entry to the ledger.
// Chain anchoring happens asynchronously: the transaction hash in the receipt
// is empty until the reconciliation loop broadcasts the eventual PoE.
func (r *Recorder) RecordPoD(ctx context.Context, data map[string]any, userID *string) (*PodReceipt, error) {
	podHash, err := hashchain.ContentHash(data)
	if err != nil {
		return nil, err
	}

	entry, err := r.store.Append(ctx, data, "pod", userID, nil)
	if err != nil {
		return nil, err
	}

	r.logger.Info("pod recorded",
		zap.String("pod_hash", shortHash(podHash)),
		zap.Int64("ledger_ref", entry.ID),
	)
	return &PodReceipt{
		Status:    "success",
		PodHash:   podHash,
		LedgerRef: entry.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// RecordPoE binds podHash to its execution result, appends a chain-tracked
// poe entry, and stages a cache record for the reconciliation loop.
func (r *Recorder) RecordPoE(ctx context.Context, podHash string, result map[string]any, userID *string) (*PoeReceipt, error) {
	poeHash, err := hashchain.PoEHash(podHash, result)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"pod_hash": podHash,
		"poe_hash": poeHash,
		"result":   result,
	}
	entry, err := r.store.Append(ctx, data, "poe", userID, &poeHash)
	if err != nil {
		return nil, err
	}

	rec := &ledger.CacheRecord{
		PoEHash:       poeHash,
		PodHash:       podHash,
		ContentType:   "poe",
		ExecutionData: result,
	}
	if err := r.store.PutCacheRecord(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("poe recorded",
		zap.String("pod_hash", shortHash(podHash)),
		zap.String("poe_hash", shortHash(poeHash)),
		zap.Int64("ledger_ref", entry.ID),
	)
	return &PoeReceipt{
		Status:       "success",
		PodHash:      podHash,
		PoeHash:      poeHash,
		LedgerRef:    entry.ID,
		Verification: "complete",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// VerifyChain runs a full-chain integrity pass. Violations are data, not
// errors; only a store failure surfaces as an error.
func (r *Recorder) VerifyChain(ctx context.Context) (*IntegrityResult, error) {
	report, err := r.store.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{
		Status:      "success",
		Entries:     report.Entries,
		Verified:    report.Verified,
		BrokenLinks: report.BrokenLinks,
		Integrity:   "intact",
	}
	if !report.Valid() {
		result.Integrity = "compromised"
		r.logger.Warn("chain integrity compromised",
			zap.Int("entries", report.Entries),
			zap.Int("broken_links", len(report.BrokenLinks)),
		)
	}
	return result, nil
}

// RepairChain rewrites broken previous_hash links and re-verifies.
func (r *Recorder) RepairChain(ctx context.Context) (int, *IntegrityResult, error) {
	repaired, err := r.store.RepairLinks(ctx)
	if err != nil {
		return 0, nil, err
	}
	result, err := r.VerifyChain(ctx)
	if err != nil {
		return repaired, nil, err
	}
	r.logger.Info("chain repair complete",
		zap.Int("repaired", repaired),
		zap.String("integrity", result.Integrity),
	)
	return repaired, result, nil
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}
