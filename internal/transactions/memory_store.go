package transactions

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for testing
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates a new in-memory transaction store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(_ context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	cp := *rec
	cp.FraudProbability = finiteProbability(rec.FraudProbability)
	m.mu.Lock()
	m.records = append(m.records, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, len(m.records))
	for i, r := range m.records {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
