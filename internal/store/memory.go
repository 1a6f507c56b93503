package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is a map-backed Store used by tests and by the opsctl dry-run
// mode. It applies the same JSON round-trip as the GORM store so both
// implementations observe identical record shapes.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Get(_ context.Context, collection, key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[collection][key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode record %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", collection, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]json.RawMessage)
	}
	s.data[collection][key] = raw
	return nil
}

func (s *MemoryStore) GetAll(_ context.Context, collection string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.data[collection]))
	for k, v := range s.data[collection] {
		out[k] = v
	}
	return out, nil
}
