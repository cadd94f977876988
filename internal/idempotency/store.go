// Package idempotency caches the outcome of processed payment webhooks so a
// redelivered event can be answered without touching the ledger. It is a
// latency shortcut only: the ledger's unique reference index stays the
// durable guard.
package idempotency

import (
	"context"
	"time"
)

// Record is what was answered the first time an event was processed.
type Record struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Result      Result    `json:"result"`
}

// Result is the cached credit outcome.
type Result struct {
	TransactionID uint64 `json:"transaction_id"`
	TenantID      string `json:"tenant_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	NewBalance    string `json:"new_balance"`
}

// Store is implemented by the memory and redis backends.
type Store interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, result Result) error
	Get(ctx context.Context, eventID string) (*Record, bool, error)
}
