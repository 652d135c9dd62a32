package operator

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// Entry is one operator-submitted transaction. The journal is an audit trail,
// not a queue: losing it never blocks submission.
type Entry struct {
	TxHash        string `json:"txHash"`
	ChainID       int64  `json:"chainId"`
	Kind          string `json:"kind"`
	WalletAddress string `json:"walletAddress"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

const (
	EntryStatusSubmitted = "submitted"
	EntryStatusSuccess   = "success"
	EntryStatusReverted  = "reverted"
)

// Journal persists submissions in sqlite, guarded by a sibling flock so
// concurrent processes sharing a data directory do not interleave writes.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "create journal directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "open journal sqlite", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS submissions (
			tx_hash TEXT PRIMARY KEY,
			chain_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_submissions_updated ON submissions(updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, agerr.Wrap(agerr.CodeInternal, "init journal schema", err)
		}
	}
	return &Journal{db: db, lock: flock.New(path + ".lock")}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) withLock(fn func() error) error {
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return agerr.Wrap(agerr.CodeInternal, "lock journal", err)
	}
	if !locked {
		return agerr.New(agerr.CodeInternal, "lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()
	return fn()
}

// Record upserts an entry keyed by transaction hash.
func (j *Journal) Record(e Entry) error {
	if j == nil {
		return nil
	}
	if strings.TrimSpace(e.TxHash) == "" {
		return agerr.New(agerr.CodeInternal, "record submission: missing tx hash")
	}
	now := time.Now().UTC().Unix()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return j.withLock(func() error {
		_, err := j.db.Exec(`
			INSERT INTO submissions (tx_hash, chain_id, kind, wallet_address, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_hash) DO UPDATE SET
				status=excluded.status,
				updated_at=excluded.updated_at
		`, e.TxHash, e.ChainID, e.Kind, e.WalletAddress, e.Status, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return agerr.Wrap(agerr.CodeInternal, "record submission", err)
		}
		return nil
	})
}

// UpdateStatus transitions an existing entry. Unknown hashes are ignored so
// status probes for externally submitted transactions stay cheap.
func (j *Journal) UpdateStatus(txHash, status string) error {
	if j == nil {
		return nil
	}
	return j.withLock(func() error {
		_, err := j.db.Exec(
			"UPDATE submissions SET status = ?, updated_at = ? WHERE tx_hash = ?",
			status, time.Now().UTC().Unix(), txHash,
		)
		if err != nil {
			return agerr.Wrap(agerr.CodeInternal, "update submission status", err)
		}
		return nil
	})
}

func (j *Journal) Get(txHash string) (Entry, bool, error) {
	if j == nil {
		return Entry{}, false, nil
	}
	var e Entry
	err := j.db.QueryRow(
		"SELECT tx_hash, chain_id, kind, wallet_address, status, created_at, updated_at FROM submissions WHERE tx_hash = ?",
		txHash,
	).Scan(&e.TxHash, &e.ChainID, &e.Kind, &e.WalletAddress, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, agerr.Wrap(agerr.CodeInternal, "read submission", err)
	}
	return e, true, nil
}

// Recent returns the newest entries, most recently updated first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(
		"SELECT tx_hash, chain_id, kind, wallet_address, status, created_at, updated_at FROM submissions ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "list submissions", err)
	}
	defer rows.Close()
	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TxHash, &e.ChainID, &e.Kind, &e.WalletAddress, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, agerr.Wrap(agerr.CodeInternal, "scan submission row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
