package decision

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // creditUID → records
}

// NewMemoryStore creates an in-memory decision store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*Record),
	}
}

func (s *MemoryStore) Record(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rec
	s.records[rec.CreditUID] = append(s.records[rec.CreditUID], &r)
	return nil
}

func (s *MemoryStore) ListByCredit(ctx context.Context, creditUID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[creditUID]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Record, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		r := *all[i]
		result = append(result, &r)
	}
	return result, nil
}
