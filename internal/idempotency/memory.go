package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/bizmesh/beckn-gateway/internal/metrics"
)

// MemoryStore is an in-process idempotency store with a background sweep
// evicting expired records. It is the default backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry

	sweepCh chan struct{}
	closed  sync.Once
}

type memoryEntry struct {
	record    *Record
	expiresAt time.Time
}

// NewMemoryStore creates a memory store sweeping at the given interval.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*memoryEntry),
		sweepCh: make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, transactionID, messageID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.records[recordKey(transactionID, messageID)]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.record, nil
}

// Put implements Store. An existing live record is never overwritten.
func (s *MemoryStore) Put(ctx context.Context, record *Record, ttl time.Duration) error {
	key := recordKey(record.TransactionID, record.MessageID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.records[key]; exists && time.Now().Before(entry.expiresAt) {
		return nil
	}
	s.records[key] = &memoryEntry{
		record:    record,
		expiresAt: time.Now().Add(ttl),
	}
	metrics.IdempotencyEntries.Set(float64(len(s.records)))
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.sweepCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.records {
		if now.After(entry.expiresAt) {
			delete(s.records, key)
		}
	}
	metrics.IdempotencyEntries.Set(float64(len(s.records)))
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() error {
	s.closed.Do(func() {
		close(s.sweepCh)
	})
	return nil
}
