// Package hashchain computes the content and chain hashes that give the
// proof ledger its tamper-evidence.
//
// All hashes are hex-encoded SHA-256 digests over canonical JSON: object keys
// sorted lexicographically at every nesting level, compact separators, no
// HTML escaping. The encoding is byte-compatible across implementations, so a
// ledger written by one process can be re-verified by any other.
package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical serialises v into canonical JSON. Arbitrary values (structs
// included) are normalised through an encode/decode round trip so that every
// object becomes a key-sorted map before the final encoding.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	// Encoder appends a newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash returns the SHA-256 of the canonical JSON of v.
// Used for PoD hashes and as base material for PoE hashes.
func ContentHash(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// PoEHash binds a PoD hash to its execution result:
// SHA-256("{podHash}:{canonical(result)}").
func PoEHash(podHash string, result any) (string, error) {
	canonical, err := Canonical(result)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString(podHash)
	buf.WriteByte(':')
	buf.Write(canonical)
	return sha256Hex(buf.Bytes()), nil
}

// ChainHash computes a ledger entry hash over the payload, the previous
// entry's hash, and the stamp taken when the entry was appended.
// previousHash is nil only for the genesis entry.
func ChainHash(data any, previousHash *string, timestamp string) (string, error) {
	envelope := map[string]any{
		"data":          data,
		"previous_hash": previousHash,
		"timestamp":     timestamp,
	}
	canonical, err := Canonical(envelope)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// sha256Hex returns the hex-encoded SHA-256 digest of data.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
