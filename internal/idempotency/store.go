package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the stored outcome of processing one logical message, keyed
// by (transactionID, messageID). Records are write-once: a replayed
// message gets the original result verbatim even if current logic would
// now produce something different.
type Record struct {
	TransactionID string          `json:"transaction_id"`
	MessageID     string          `json:"message_id"`
	Action        string          `json:"action,omitempty"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	StoredAt      time.Time       `json:"stored_at"`
}

// Store is a bounded-TTL cache guaranteeing at-most-once side effect
// execution per logical message. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored record for the message, or nil if none.
	Get(ctx context.Context, transactionID, messageID string) (*Record, error)

	// Put stores the record with the given TTL. The first write wins:
	// if a record already exists for the key it is left untouched.
	Put(ctx context.Context, record *Record, ttl time.Duration) error

	Close() error
}

func recordKey(transactionID, messageID string) string {
	return transactionID + ":" + messageID
}
