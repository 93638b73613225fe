package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aamirshehzad9/GentleOmega/internal/hashchain"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process runs without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	cache   map[string]*CacheRecord
	nextID  int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{cache: make(map[string]*CacheRecord), nextID: 1}
}

// LastHash implements Store.
func (s *MemoryStore) LastHash(_ context.Context) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHashLocked(), nil
}

func (s *MemoryStore) lastHashLocked() *string {
	if len(s.entries) == 0 {
		return nil
	}
	h := s.entries[len(s.entries)-1].Hash
	return &h
}

// Append implements Store. The write lock serialises concurrent appenders so
// each entry links to the true chain tip.
func (s *MemoryStore) Append(_ context.Context, data map[string]any, contentType string, userID, poeHash *string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)
	prev := s.lastHashLocked()

	hash, err := hashchain.ChainHash(data, prev, ts)
	if err != nil {
		return nil, storeErr("append", err)
	}

	blockData := make(map[string]any, len(data)+1)
	for k, v := range data {
		blockData[k] = v
	}
	blockData[HashTimestampKey] = ts

	entry := &Entry{
		ID:           s.nextID,
		Hash:         hash,
		PreviousHash: prev,
		BlockData:    blockData,
		ContentType:  contentType,
		UserID:       userID,
		PoEHash:      poeHash,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.entries = append(s.entries, entry)
	return entry, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int, status string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// VerifyIntegrity implements Store.
func (s *MemoryStore) VerifyIntegrity(_ context.Context) (*IntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &IntegrityReport{Entries: len(s.entries), BrokenLinks: []string{}}
	for i, e := range s.entries {
		verifyEntry(report, e, prevOf(s.entries, i))
	}
	return report, nil
}

// RepairLinks implements Store.
func (s *MemoryStore) RepairLinks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repaired := 0
	for i := 1; i < len(s.entries); i++ {
		expected := s.entries[i-1].Hash
		e := s.entries[i]
		if e.PreviousHash == nil || *e.PreviousHash != expected {
			h := expected
			e.PreviousHash = &h
			e.UpdatedAt = time.Now().UTC()
			repaired++
		}
	}
	return repaired, nil
}

// PutCacheRecord implements Store.
func (s *MemoryStore) PutCacheRecord(_ context.Context, rec *CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.cache[rec.PoEHash]; ok {
		existing.PodHash = rec.PodHash
		existing.ContentType = rec.ContentType
		existing.ExecutionData = rec.ExecutionData
		existing.UpdatedAt = now
		return nil
	}
	stored := *rec
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.cache[rec.PoEHash] = &stored
	return nil
}

// ScanOffChain implements Store.
func (s *MemoryStore) ScanOffChain(_ context.Context, limit int) ([]*CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*CacheRecord
	for _, rec := range s.cache {
		if !rec.OnChain {
			out = append(out, rec)
		}
	}
	// Oldest first, bounded.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkOnChain implements Store.
func (s *MemoryStore) MarkOnChain(_ context.Context, poeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache[poeHash]
	if !ok {
		return storeErr("mark on-chain", fmt.Errorf("cache record %s not found", short(poeHash)))
	}
	rec.OnChain = true
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// EnsureSubmission implements Store.
func (s *MemoryStore) EnsureSubmission(ctx context.Context, poeHash string) (bool, error) {
	s.mu.RLock()
	rec, cached := s.cache[poeHash]
	exists := s.findByPoEHashLocked(poeHash) != nil
	s.mu.RUnlock()

	if exists {
		return false, nil
	}
	if !cached {
		return false, storeErr("ensure submission", fmt.Errorf("cache record %s not found", short(poeHash)))
	}

	data := map[string]any{
		"poe_hash":     rec.PoEHash,
		"pod_hash":     rec.PodHash,
		"content_type": rec.ContentType,
	}
	if _, err := s.Append(ctx, data, "poe", nil, &rec.PoEHash); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) findByPoEHashLocked(poeHash string) *Entry {
	for _, e := range s.entries {
		if e.PoEHash != nil && *e.PoEHash == poeHash {
			return e
		}
	}
	return nil
}

// QueuedSubmissions implements Store.
func (s *MemoryStore) QueuedSubmissions(_ context.Context, limit int) ([]*Submission, error) {
	return s.submissionsByStatus(StatusQueued, limit), nil
}

// PendingSubmissions implements Store.
func (s *MemoryStore) PendingSubmissions(_ context.Context, limit int) ([]*Submission, error) {
	return s.submissionsByStatus(StatusPending, limit), nil
}

func (s *MemoryStore) submissionsByStatus(status string, limit int) []*Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Submission
	for _, e := range s.entries {
		if len(out) >= limit {
			break
		}
		if e.PoEHash == nil || e.Status != status {
			continue
		}
		out = append(out, &Submission{ID: e.ID, PoEHash: *e.PoEHash, TxHash: e.TxHash})
	}
	return out
}

// MarkPending implements Store.
func (s *MemoryStore) MarkPending(_ context.Context, id int64, txHash string) error {
	return s.transition(id, StatusQueued, func(e *Entry) {
		e.Status = StatusPending
		e.TxHash = &txHash
	})
}

// ConfirmSubmission implements Store.
func (s *MemoryStore) ConfirmSubmission(_ context.Context, id int64, blockNumber int64) error {
	return s.transition(id, StatusPending, func(e *Entry) {
		e.Status = StatusConfirmed
		e.BlockNumber = &blockNumber
	})
}

// FailSubmission implements Store.
func (s *MemoryStore) FailSubmission(_ context.Context, id int64) error {
	return s.transition(id, StatusPending, func(e *Entry) {
		e.Status = StatusFailed
	})
}

// transition applies mutate to the entry with the given id, but only from the
// expected status. confirmed and failed are terminal.
func (s *MemoryStore) transition(id int64, from string, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID != id {
			continue
		}
		if e.Status != from {
			return storeErr("transition", fmt.Errorf("%w: entry %d is %s, want %s", ErrInvalidTransition, id, e.Status, from))
		}
		mutate(e)
		e.UpdatedAt = time.Now().UTC()
		return nil
	}
	return storeErr("transition", fmt.Errorf("entry %d not found", id))
}

// SubmissionStats implements Store.
func (s *MemoryStore) SubmissionStats(_ context.Context) (*SubmissionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &SubmissionStats{Total: int64(len(s.entries)), LastConfirmedBlock: -1}
	for _, e := range s.entries {
		if e.PoEHash == nil {
			continue
		}
		switch e.Status {
		case StatusQueued:
			stats.Queued++
		case StatusPending:
			stats.Pending++
		case StatusConfirmed:
			stats.Confirmed++
			if e.BlockNumber != nil && *e.BlockNumber > stats.LastConfirmedBlock {
				stats.LastConfirmedBlock = *e.BlockNumber
			}
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// prevOf returns the predecessor of entries[i], or nil for the genesis entry.
func prevOf(entries []*Entry, i int) *Entry {
	if i == 0 {
		return nil
	}
	return entries[i-1]
}

// verifyEntry checks the chain link and the recomputed hash for one entry,
// appending any violation to the report. A broken link suppresses the hash
// check for that entry: the hash commits to previous_hash, so a corrupted
// link would only produce a second message about the same corruption.
func verifyEntry(report *IntegrityReport, e, prev *Entry) {
	if prev == nil {
		if e.PreviousHash != nil {
			report.BrokenLinks = append(report.BrokenLinks,
				fmt.Sprintf("genesis entry %d has unexpected previous_hash %s", e.ID, short(*e.PreviousHash)))
			return
		}
	} else if e.PreviousHash == nil || *e.PreviousHash != prev.Hash {
		got := "<nil>"
		if e.PreviousHash != nil {
			got = short(*e.PreviousHash)
		}
		report.BrokenLinks = append(report.BrokenLinks,
			fmt.Sprintf("entry %d previous_hash mismatch: expected %s, got %s", e.ID, short(prev.Hash), got))
		return
	}

	data, ts := stripHashTimestamp(e.BlockData)
	computed, err := hashchain.ChainHash(data, e.PreviousHash, ts)
	if err != nil {
		report.BrokenLinks = append(report.BrokenLinks,
			fmt.Sprintf("entry %d hash computation error: %v", e.ID, err))
		return
	}
	if computed != e.Hash {
		report.BrokenLinks = append(report.BrokenLinks,
			fmt.Sprintf("entry %d hash verification failed: expected %s, got %s", e.ID, short(computed), short(e.Hash)))
		return
	}
	report.Verified++
}

// short truncates a hash for log and report messages.
func short(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}
