package ledger

import (
	"time"
)

// Entry is a single hash-chained row in the proof ledger.
type Entry struct {
	ID           int64          `json:"id"`
	Hash         string         `json:"hash"`
	PreviousHash *string        `json:"previous_hash"`
	BlockData    map[string]any `json:"block_data"`
	ContentType  string         `json:"content_type"` // pod, poe, item, ...
	UserID       *string        `json:"user_id,omitempty"`
	PoEHash      *string        `json:"poe_hash,omitempty"`
	Status       string         `json:"status"`
	TxHash       *string        `json:"tx_hash,omitempty"`
	BlockNumber  *int64         `json:"block_number,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Submission is the chain-tracking view of a ledger entry: the minimal data
// the reconciliation loop needs to broadcast it and watch for a receipt.
type Submission struct {
	ID      int64   `json:"id"`
	PoEHash string  `json:"poe_hash"`
	TxHash  *string `json:"tx_hash,omitempty"`
}

// CacheRecord stages a recorded PoD/PoE pair so the reconciliation loop can
// discover work without rescanning the whole ledger. Keyed by poe_hash.
type CacheRecord struct {
	PoEHash       string         `json:"poe_hash"`
	PodHash       string         `json:"pod_hash"`
	ContentType   string         `json:"content_type"`
	ExecutionData map[string]any `json:"execution_data"`
	OnChain       bool           `json:"on_chain"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// stripHashTimestamp returns a copy of block data without the embedded
// hash timestamp, plus the timestamp itself. Verification must never mutate
// the map that was read from storage.
func stripHashTimestamp(blockData map[string]any) (map[string]any, string) {
	data := make(map[string]any, len(blockData))
	var ts string
	for k, v := range blockData {
		if k == HashTimestampKey {
			ts, _ = v.(string)
			continue
		}
		data[k] = v
	}
	return data, ts
}
