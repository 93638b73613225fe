package proof

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/hashchain"
	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
)

func newRecorder() (*Recorder, *ledger.MemoryStore) {
	store := ledger.NewMemory()
	return NewRecorder(store, zap.NewNop()), store
}

func TestRecordPoD(t *testing.T) {
	rec, store := newRecorder()
	ctx := context.Background()

	data := map[string]any{"query": "what is the meaning of life", "user_id": "u1"}
	receipt, err := rec.RecordPoD(ctx, data, nil)
	if err != nil {
		t.Fatalf("record pod: %v", err)
	}

	wantHash, err := hashchain.ContentHash(data)
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	if receipt.PodHash != wantHash {
		t.Errorf("pod hash = %s, want %s", receipt.PodHash, wantHash)
	}
	if receipt.Status != "success" || receipt.LedgerRef == 0 {
		t.Errorf("receipt = %+v, want success with a ledger ref", receipt)
	}
	if receipt.TransactionHash != "" {
		t.Errorf("transaction hash = %q, want empty before reconciliation", receipt.TransactionHash)
	}

	entries, err := store.List(ctx, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != "pod" {
		t.Fatalf("ledger = %+v, want one pod entry", entries)
	}
}

func TestRecordPoEStagesForReconciliation(t *testing.T) {
	rec, store := newRecorder()
	ctx := context.Background()

	data := map[string]any{"query": "answer me"}
	podReceipt, err := rec.RecordPoD(ctx, data, nil)
	if err != nil {
		t.Fatalf("record pod: %v", err)
	}

	result := map[string]any{"status": "completed", "answer": "42"}
	poeReceipt, err := rec.RecordPoE(ctx, podReceipt.PodHash, result, nil)
	if err != nil {
		t.Fatalf("record poe: %v", err)
	}

	wantHash, err := hashchain.PoEHash(podReceipt.PodHash, result)
	if err != nil {
		t.Fatalf("poe hash: %v", err)
	}
	if poeReceipt.PoeHash != wantHash {
		t.Errorf("poe hash = %s, want %s", poeReceipt.PoeHash, wantHash)
	}
	if poeReceipt.Verification != "complete" {
		t.Errorf("verification = %s, want complete", poeReceipt.Verification)
	}

	// The poe entry is chain-tracked and starts queued.
	queued, err := store.QueuedSubmissions(ctx, 10)
	if err != nil {
		t.Fatalf("queued: %v", err)
	}
	if len(queued) != 1 || queued[0].PoEHash != wantHash {
		t.Fatalf("queued = %+v, want the poe entry", queued)
	}

	// A cache record is staged for the reconciliation loop.
	offChain, err := store.ScanOffChain(ctx, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(offChain) != 1 || offChain[0].PodHash != podReceipt.PodHash {
		t.Fatalf("off-chain = %+v, want one record bound to the pod", offChain)
	}
}

func TestRecordedProofsKeepChainIntact(t *testing.T) {
	rec, _ := newRecorder()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data := map[string]any{"seq": i}
		podReceipt, err := rec.RecordPoD(ctx, data, nil)
		if err != nil {
			t.Fatalf("record pod %d: %v", i, err)
		}
		if _, err := rec.RecordPoE(ctx, podReceipt.PodHash, map[string]any{"ok": true}, nil); err != nil {
			t.Fatalf("record poe %d: %v", i, err)
		}
	}

	result, err := rec.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Integrity != "intact" {
		t.Errorf("integrity = %s (%v), want intact", result.Integrity, result.BrokenLinks)
	}
	if result.Entries != 6 || result.Verified != 6 {
		t.Errorf("result = %+v, want 6 entries all verified", result)
	}
}

func TestVerifyChainReportsCompromise(t *testing.T) {
	rec, store := newRecorder()
	ctx := context.Background()

	if _, err := rec.RecordPoD(ctx, map[string]any{"a": 1}, nil); err != nil {
		t.Fatalf("record pod: %v", err)
	}
	if _, err := rec.RecordPoD(ctx, map[string]any{"b": 2}, nil); err != nil {
		t.Fatalf("record pod: %v", err)
	}

	// Tamper with the second entry through the store.
	entries, err := store.List(ctx, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries[0].BlockData["b"] = 999

	result, err := rec.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Integrity != "compromised" {
		t.Errorf("integrity = %s, want compromised", result.Integrity)
	}
	if len(result.BrokenLinks) != 1 {
		t.Errorf("broken links = %v, want one finding", result.BrokenLinks)
	}
}

func TestRepairChain(t *testing.T) {
	rec, store := newRecorder()
	ctx := context.Background()

	if _, err := rec.RecordPoD(ctx, map[string]any{"a": 1}, nil); err != nil {
		t.Fatalf("record pod: %v", err)
	}
	if _, err := rec.RecordPoD(ctx, map[string]any{"b": 2}, nil); err != nil {
		t.Fatalf("record pod: %v", err)
	}

	entries, err := store.List(ctx, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	bogus := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	entries[0].PreviousHash = &bogus // newest entry first

	repaired, result, err := rec.RepairChain(ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}
	if result.Integrity != "intact" {
		t.Errorf("integrity after repair = %s (%v), want intact", result.Integrity, result.BrokenLinks)
	}
}
