// Package ledger implements the append-only, hash-chained proof ledger and
// the PoD/PoE staging cache that feeds chain reconciliation.
//
// Every entry links to its predecessor through previous_hash, making any
// rewrite of history detectable via VerifyIntegrity. Two implementations of
// the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a submission status change is not
// allowed by the queued → pending → confirmed/failed state machine.
var ErrInvalidTransition = errors.New("invalid submission state transition")

// Submission statuses for chain-tracked entries.
const (
	StatusQueued    = "queued"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// HashTimestampKey is the block_data field carrying the append timestamp the
// entry hash was computed with. Verification strips it from a copy of the
// payload before recomputing; it is never removed from the stored data.
const HashTimestampKey = "hash_timestamp"

// Store is the persistence contract for the proof ledger.
type Store interface {
	// LastHash returns the hash of the entry with the most recent
	// (created_at, id), or nil when the ledger is empty.
	LastHash(ctx context.Context) (*string, error)

	// Append stamps a timestamp, links the entry to the current chain tip,
	// and persists it. Concurrent appends are serialised by the store; two
	// callers can never both link to the same predecessor.
	Append(ctx context.Context, data map[string]any, contentType string, userID, poeHash *string) (*Entry, error)

	// List returns entries ordered by updated_at descending, optionally
	// filtered by submission status. status == "" means no filter.
	List(ctx context.Context, limit int, status string) ([]*Entry, error)

	// VerifyIntegrity walks the full chain in (created_at, id) order and
	// reports every link or hash violation found. Data problems never
	// surface as an error; they are collected in the report.
	VerifyIntegrity(ctx context.Context) (*IntegrityReport, error)

	// RepairLinks rewrites previous_hash on every non-genesis entry that
	// disagrees with its predecessor's hash, returning the repair count.
	// Entry hashes are never recomputed: repaired entries still fail hash
	// verification until re-hashed, which this store deliberately does not do.
	RepairLinks(ctx context.Context) (int, error)

	// PutCacheRecord stages a PoD/PoE pair for later chain submission.
	// Writing an existing poe_hash updates the record in place.
	PutCacheRecord(ctx context.Context, rec *CacheRecord) error

	// ScanOffChain returns up to limit cache records not yet anchored
	// on chain, oldest first.
	ScanOffChain(ctx context.Context, limit int) ([]*CacheRecord, error)

	// MarkOnChain flags the cache record for poeHash as anchored.
	MarkOnChain(ctx context.Context, poeHash string) error

	// EnsureSubmission guarantees a chain-trackable ledger entry exists for
	// poeHash, appending one from the cache record if missing. Returns true
	// when a new entry was created. Idempotent.
	EnsureSubmission(ctx context.Context, poeHash string) (bool, error)

	// QueuedSubmissions returns up to limit chain-tracked entries awaiting
	// broadcast, ordered by id.
	QueuedSubmissions(ctx context.Context, limit int) ([]*Submission, error)

	// MarkPending records the broadcast transaction hash and moves the
	// submission from queued to pending.
	MarkPending(ctx context.Context, id int64, txHash string) error

	// PendingSubmissions returns up to limit broadcast entries awaiting a
	// receipt, ordered by id.
	PendingSubmissions(ctx context.Context, limit int) ([]*Submission, error)

	// ConfirmSubmission marks a pending submission confirmed at blockNumber.
	ConfirmSubmission(ctx context.Context, id int64, blockNumber int64) error

	// FailSubmission marks a pending submission failed. Terminal.
	FailSubmission(ctx context.Context, id int64) error

	// SubmissionStats returns aggregate counts for the chain status surface.
	SubmissionStats(ctx context.Context) (*SubmissionStats, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// IntegrityReport is the outcome of a full-chain verification pass.
type IntegrityReport struct {
	Entries     int      `json:"entries"`
	Verified    int      `json:"verified"`
	BrokenLinks []string `json:"broken_links"`
}

// Valid reports whether the chain passed verification.
func (r *IntegrityReport) Valid() bool {
	return len(r.BrokenLinks) == 0
}

// SubmissionStats aggregates chain-submission state for status endpoints.
type SubmissionStats struct {
	Queued             int64 `json:"queued_tx"`
	Pending            int64 `json:"pending_tx"`
	Confirmed          int64 `json:"confirmed_tx"`
	Failed             int64 `json:"failed_tx"`
	Total              int64 `json:"ledger_total"`
	LastConfirmedBlock int64 `json:"last_confirmed_block"`
}

// StoreError wraps persistence failures with the operation that hit them.
// Append callers receive it directly so data loss is never silent.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeErr wraps err in a *StoreError for operation op.
func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
