package idempotency

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps at most size records, each for ttl. The least recently
// used record is evicted first once the bound is hit.
type MemoryStore struct {
	cache *expirable.LRU[string, Record]
	now   func() time.Time
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, Record](size, nil, ttl),
		now:   time.Now,
	}
}

func (m *MemoryStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := m.cache.Peek(eventID)
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, eventID string, result Result) error {
	m.cache.Add(eventID, Record{EventID: eventID, ProcessedAt: m.now(), Result: result})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, eventID string) (*Record, bool, error) {
	rec, ok := m.cache.Get(eventID)
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Len is the number of live records.
func (m *MemoryStore) Len() int { return m.cache.Len() }
