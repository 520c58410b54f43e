package store

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

// InMemoryStore is a concurrency-safe, process-lifetime Store.
// Records are never evicted or expired.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.StoredRecord
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]models.StoredRecord),
	}
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(ctx context.Context, id string, record models.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = record
	return nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (models.StoredRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.StoredRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
