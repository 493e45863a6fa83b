// Package anchor maintains the tamper-evident side of the ledger: an
// append-only, hash-chained log of commission records. Ledger
// persistence is the authoritative synchronous step; anchoring runs
// asynchronously and is tracked per record via its anchor status.
package anchor

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const genesisHash = "genesis"

// Entry is one immutable, hash-chained anchor.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	RecordID    string    `json:"record_id"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// Chain is the append-only anchor log. Entries are persisted and the
// head hash chains each entry to its predecessor; there are no delete
// or update paths.
type Chain struct {
	mu       sync.Mutex
	db       *sql.DB
	headHash string
	length   uint64
	clock    func() time.Time
}

// NewChain loads the chain head from storage.
func NewChain(db *sql.DB) (*Chain, error) {
	c := &Chain{db: db, headHash: genesisHash, clock: time.Now}

	row := db.QueryRow(
		"SELECT sequence, content_hash FROM anchor_entries ORDER BY sequence DESC LIMIT 1",
	)
	var seq uint64
	var head string
	switch err := row.Scan(&seq, &head); err {
	case nil:
		c.length = seq
		c.headHash = head
	case sql.ErrNoRows:
		// empty chain
	default:
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	return c, nil
}

// WithClock overrides the clock for tests.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// Append writes a new entry chaining the given record payload to the
// current head and returns its content hash reference.
func (c *Chain) Append(recordID string, payload any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.length + 1
	contentHash, err := hashEntry(seq, recordID, payload, c.headHash)
	if err != nil {
		return "", err
	}

	_, err = c.db.Exec(
		`INSERT INTO anchor_entries (sequence, record_id, content_hash, prev_hash, anchored_at)
		 VALUES (?,?,?,?,?)`,
		seq, recordID, contentHash, c.headHash, c.clock().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("append anchor: %w", err)
	}

	c.length = seq
	c.headHash = contentHash
	return contentHash, nil
}

// Head returns the current head hash.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headHash
}

// Length returns the number of chained entries.
func (c *Chain) Length() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Verify walks the stored chain and checks every prev-hash link. The
// content hashes themselves cover the record payload at anchor time, so
// re-verification of payloads happens against the records, not here.
func (c *Chain) Verify() (bool, string) {
	rows, err := c.db.Query(
		"SELECT sequence, content_hash, prev_hash FROM anchor_entries ORDER BY sequence",
	)
	if err != nil {
		return false, fmt.Sprintf("query chain: %v", err)
	}
	defer rows.Close()

	prev := genesisHash
	for rows.Next() {
		var seq uint64
		var content, prevStored string
		if err := rows.Scan(&seq, &content, &prevStored); err != nil {
			return false, fmt.Sprintf("scan entry: %v", err)
		}
		if prevStored != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", seq, prev, prevStored)
		}
		prev = content
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Sprintf("walk chain: %v", err)
	}
	return true, "chain verified"
}

func hashEntry(seq uint64, recordID string, payload any, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64 `json:"seq"`
		RecordID string `json:"record_id"`
		Payload  any    `json:"payload"`
		PrevHash string `json:"prev"`
	}{seq, recordID, payload, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal anchor entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
