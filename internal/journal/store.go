// Package journal persists swap and lend attempts. It records state
// transitions for inspection only: quotes are never reused from here, and a
// failed attempt is retried by starting a fresh one.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type AttemptStatus string

const (
	StatusPlanned   AttemptStatus = "planned"
	StatusQuoted    AttemptStatus = "quoted"
	StatusSubmitted AttemptStatus = "submitted"
	StatusFailed    AttemptStatus = "failed"
)

type AttemptKind string

const (
	KindSwap    AttemptKind = "swap"
	KindStake   AttemptKind = "stake"
	KindUnstake AttemptKind = "unstake"
)

// Attempt is one swap or lend execution attempt. IndicativeBuyAmount and
// BuyAmount expose the price-vs-quote drift so callers can apply their own
// slippage policy; the pipeline itself does not enforce one.
type Attempt struct {
	AttemptID           string        `json:"attempt_id"`
	Kind                AttemptKind   `json:"kind"`
	Status              AttemptStatus `json:"status"`
	ChainID             int64         `json:"chain_id"`
	Account             string        `json:"account"`
	SellToken           string        `json:"sell_token,omitempty"`
	BuyToken            string        `json:"buy_token,omitempty"`
	SellAmount          string        `json:"sell_amount,omitempty"`
	IndicativeBuyAmount string        `json:"indicative_buy_amount,omitempty"`
	BuyAmount           string        `json:"buy_amount,omitempty"`
	ApprovalTxHash      string        `json:"approval_tx_hash,omitempty"`
	TxHash              string        `json:"tx_hash,omitempty"`
	Error               string        `json:"error,omitempty"`
	CreatedAt           string        `json:"created_at"`
	UpdatedAt           string        `json:"updated_at"`
}

func NewAttempt(attemptID string, kind AttemptKind, chainID int64, account string) Attempt {
	now := time.Now().UTC().Format(time.RFC3339)
	return Attempt{
		AttemptID: attemptID,
		Kind:      kind,
		Status:    StatusPlanned,
		ChainID:   chainID,
		Account:   account,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Attempt) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS attempts (
			attempt_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			account TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_attempts_status_updated ON attempts(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(attempt Attempt) error {
	if strings.TrimSpace(attempt.AttemptID) == "" {
		return fmt.Errorf("save attempt: missing attempt id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(attempt.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(attempt.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = s.db.Exec(`
		INSERT INTO attempts (attempt_id, kind, status, chain_id, account, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			kind=excluded.kind,
			status=excluded.status,
			chain_id=excluded.chain_id,
			account=excluded.account,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, attempt.AttemptID, attempt.Kind, attempt.Status, attempt.ChainID, attempt.Account, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *Store) Get(attemptID string) (Attempt, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM attempts WHERE attempt_id = ?", attemptID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, fmt.Errorf("attempt not found: %s", attemptID)
		}
		return Attempt{}, fmt.Errorf("read attempt: %w", err)
	}
	var attempt Attempt
	if err := json.Unmarshal(payload, &attempt); err != nil {
		return Attempt{}, fmt.Errorf("decode attempt payload: %w", err)
	}
	return attempt, nil
}

func (s *Store) List(status string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM attempts ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM attempts WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		var attempt Attempt
		if err := json.Unmarshal(payload, &attempt); err != nil {
			return nil, fmt.Errorf("decode attempt row: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}
	return attempts, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
