package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/hashchain"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all processes writing to the same ledger.
const advisoryLockKey = int64(2_210_731_977)

const entryColumns = `id, hash, previous_hash, block_data, content_type, user_id,
	poe_hash, status, tx_hash, block_number, created_at, updated_at`

// PostgresStore persists the proof ledger and the PoD/PoE cache to
// PostgreSQL. It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// LastHash implements Store.
func (s *PostgresStore) LastHash(ctx context.Context) (*string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT hash FROM proof_ledger ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("last hash", err)
	}
	return &hash, nil
}

// Append implements Store.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// computes the new entry hash, and inserts it — all in one transaction, so
// concurrent appenders can never link to the same predecessor.
func (s *PostgresStore) Append(ctx context.Context, data map[string]any, contentType string, userID, poeHash *string) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("append", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, storeErr("append", fmt.Errorf("acquire advisory lock: %w", err))
	}

	var prev *string
	var tail string
	err = tx.QueryRow(ctx,
		`SELECT hash FROM proof_ledger ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&tail)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Genesis entry: no predecessor.
	case err != nil:
		return nil, storeErr("append", fmt.Errorf("read ledger tail: %w", err))
	default:
		prev = &tail
	}

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

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
		Hash:         hash,
		PreviousHash: prev,
		BlockData:    blockData,
		ContentType:  contentType,
		UserID:       userID,
		PoEHash:      poeHash,
		Status:       StatusQueued,
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO proof_ledger (hash, previous_hash, block_data, content_type, user_id, poe_hash, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING id, created_at, updated_at`,
		entry.Hash, entry.PreviousHash, entry.BlockData,
		entry.ContentType, entry.UserID, entry.PoEHash, entry.Status, now,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, storeErr("append", fmt.Errorf("insert ledger entry: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("append", fmt.Errorf("commit: %w", err))
	}

	s.logger.Debug("ledger entry appended",
		zap.Int64("id", entry.ID),
		zap.String("hash", short(entry.Hash)),
		zap.String("content_type", entry.ContentType),
	)
	return entry, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit int, status string) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM proof_ledger ORDER BY updated_at DESC LIMIT $1`
	args := []any{limit}
	if status != "" {
		query = `SELECT ` + entryColumns + ` FROM proof_ledger WHERE status = $2 ORDER BY updated_at DESC LIMIT $1`
		args = append(args, status)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity implements Store. It streams all rows in (created_at, id)
// order and validates both the chain links and the recomputed entry hashes.
// O(n) in ledger length; may be slow for very large ledgers.
func (s *PostgresStore) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM proof_ledger ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, storeErr("verify", err)
	}
	defer rows.Close()

	report := &IntegrityReport{BrokenLinks: []string{}}
	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("verify", err)
		}
		report.Entries++
		verifyEntry(report, curr, prev)
		prev = curr
	}
	return report, rows.Err()
}

// RepairLinks implements Store. Only previous_hash is rewritten; stored entry
// hashes are left untouched, so repaired entries may still fail hash
// verification until re-appended.
func (s *PostgresStore) RepairLinks(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, hash, previous_hash FROM proof_ledger ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return 0, storeErr("repair", err)
	}

	type link struct {
		id       int64
		hash     string
		prevHash *string
	}
	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.id, &l.hash, &l.prevHash); err != nil {
			rows.Close()
			return 0, storeErr("repair", err)
		}
		links = append(links, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storeErr("repair", err)
	}

	repaired := 0
	for i := 1; i < len(links); i++ {
		expected := links[i-1].hash
		if links[i].prevHash != nil && *links[i].prevHash == expected {
			continue
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE proof_ledger SET previous_hash = $1, updated_at = now() WHERE id = $2`,
			expected, links[i].id,
		); err != nil {
			return repaired, storeErr("repair", err)
		}
		s.logger.Info("ledger link repaired",
			zap.Int64("id", links[i].id),
			zap.String("previous_hash", short(expected)),
		)
		repaired++
	}
	return repaired, nil
}

// PutCacheRecord implements Store.
func (s *PostgresStore) PutCacheRecord(ctx context.Context, rec *CacheRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pods_poe (poe_hash, pod_hash, content_type, execution_data, on_chain)
		 VALUES ($1, $2, $3, $4, false)
		 ON CONFLICT (poe_hash) DO UPDATE
		 SET pod_hash = EXCLUDED.pod_hash,
		     content_type = EXCLUDED.content_type,
		     execution_data = EXCLUDED.execution_data,
		     updated_at = now()`,
		rec.PoEHash, rec.PodHash, rec.ContentType, rec.ExecutionData,
	)
	if err != nil {
		return storeErr("put cache record", err)
	}
	return nil
}

// ScanOffChain implements Store.
func (s *PostgresStore) ScanOffChain(ctx context.Context, limit int) ([]*CacheRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT poe_hash, pod_hash, content_type, execution_data, on_chain, created_at, updated_at
		 FROM pods_poe WHERE on_chain = false ORDER BY created_at LIMIT $1`, limit,
	)
	if err != nil {
		return nil, storeErr("scan off-chain", err)
	}
	defer rows.Close()

	var recs []*CacheRecord
	for rows.Next() {
		rec := &CacheRecord{}
		if err := rows.Scan(&rec.PoEHash, &rec.PodHash, &rec.ContentType,
			&rec.ExecutionData, &rec.OnChain, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, storeErr("scan off-chain", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarkOnChain implements Store.
func (s *PostgresStore) MarkOnChain(ctx context.Context, poeHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pods_poe SET on_chain = true, updated_at = now() WHERE poe_hash = $1`, poeHash,
	)
	if err != nil {
		return storeErr("mark on-chain", err)
	}
	if tag.RowsAffected() == 0 {
		return storeErr("mark on-chain", fmt.Errorf("cache record %s not found", short(poeHash)))
	}
	return nil
}

// EnsureSubmission implements Store.
func (s *PostgresStore) EnsureSubmission(ctx context.Context, poeHash string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM proof_ledger WHERE poe_hash = $1)`, poeHash,
	).Scan(&exists); err != nil {
		return false, storeErr("ensure submission", err)
	}
	if exists {
		return false, nil
	}

	rec := &CacheRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT poe_hash, pod_hash, content_type FROM pods_poe WHERE poe_hash = $1`, poeHash,
	).Scan(&rec.PoEHash, &rec.PodHash, &rec.ContentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, storeErr("ensure submission", fmt.Errorf("cache record %s not found", short(poeHash)))
	}
	if err != nil {
		return false, storeErr("ensure submission", err)
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

// QueuedSubmissions implements Store.
func (s *PostgresStore) QueuedSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	return s.submissionsByStatus(ctx, StatusQueued, limit)
}

// PendingSubmissions implements Store.
func (s *PostgresStore) PendingSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	return s.submissionsByStatus(ctx, StatusPending, limit)
}

func (s *PostgresStore) submissionsByStatus(ctx context.Context, status string, limit int) ([]*Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, poe_hash, tx_hash FROM proof_ledger
		 WHERE status = $1 AND poe_hash IS NOT NULL
		 ORDER BY id LIMIT $2`, status, limit,
	)
	if err != nil {
		return nil, storeErr("select submissions", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub := &Submission{}
		if err := rows.Scan(&sub.ID, &sub.PoEHash, &sub.TxHash); err != nil {
			return nil, storeErr("select submissions", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkPending implements Store.
func (s *PostgresStore) MarkPending(ctx context.Context, id int64, txHash string) error {
	return s.transition(ctx, id, StatusQueued,
		`UPDATE proof_ledger SET status = 'pending', tx_hash = $2, updated_at = now()
		 WHERE id = $1 AND status = 'queued'`, txHash)
}

// ConfirmSubmission implements Store.
func (s *PostgresStore) ConfirmSubmission(ctx context.Context, id int64, blockNumber int64) error {
	return s.transition(ctx, id, StatusPending,
		`UPDATE proof_ledger SET status = 'confirmed', block_number = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, blockNumber)
}

// FailSubmission implements Store.
func (s *PostgresStore) FailSubmission(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending,
		`UPDATE proof_ledger SET status = 'failed', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`)
}

// transition runs a guarded status update; zero rows affected means the entry
// was not in the expected source state (or does not exist).
func (s *PostgresStore) transition(ctx context.Context, id int64, from, query string, extra ...any) error {
	args := append([]any{id}, extra...)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return storeErr("transition", err)
	}
	if tag.RowsAffected() == 0 {
		return storeErr("transition", fmt.Errorf("%w: entry %d not in status %s", ErrInvalidTransition, id, from))
	}
	return nil
}

// SubmissionStats implements Store.
func (s *PostgresStore) SubmissionStats(ctx context.Context) (*SubmissionStats, error) {
	stats := &SubmissionStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM proof_ledger WHERE status = 'queued'    AND poe_hash IS NOT NULL),
		  (SELECT COUNT(*) FROM proof_ledger WHERE status = 'pending'   AND poe_hash IS NOT NULL),
		  (SELECT COUNT(*) FROM proof_ledger WHERE status = 'confirmed' AND poe_hash IS NOT NULL),
		  (SELECT COUNT(*) FROM proof_ledger WHERE status = 'failed'    AND poe_hash IS NOT NULL),
		  (SELECT COUNT(*) FROM proof_ledger),
		  (SELECT COALESCE(MAX(block_number), -1) FROM proof_ledger WHERE status = 'confirmed')`,
	).Scan(&stats.Queued, &stats.Pending, &stats.Confirmed, &stats.Failed,
		&stats.Total, &stats.LastConfirmedBlock)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	return stats, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// scanEntry reads one full ledger row.
func scanEntry(rows pgx.Rows) (*Entry, error) {
	e := &Entry{}
	if err := rows.Scan(
		&e.ID, &e.Hash, &e.PreviousHash, &e.BlockData, &e.ContentType, &e.UserID,
		&e.PoEHash, &e.Status, &e.TxHash, &e.BlockNumber, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return e, nil
}
