package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps namespaces in process memory. Used in tests and when
// persistence is disabled.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
}

func (s *MemoryStore) Load(_ context.Context, namespace string) (map[string]json.RawMessage, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.data[namespace]), nil
}

func (s *MemoryStore) Save(_ context.Context, namespace string, values map[string]json.RawMessage) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace] = clone(values)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, namespace string, fn func(map[string]json.RawMessage) error) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := clone(s.data[namespace])
	if err := fn(m); err != nil {
		return err
	}
	s.data[namespace] = m
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
