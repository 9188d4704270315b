package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyNamespace is returned for operations without a namespace.
var ErrEmptyNamespace = errors.New("empty namespace")

// Store persists namespaces, each a JSON object keyed by instrument.
type Store interface {
	Load(ctx context.Context, namespace string) (map[string]json.RawMessage, error)
	Save(ctx context.Context, namespace string, values map[string]json.RawMessage) error
	// Update runs fn on the current contents of namespace and saves the
	// result, serialized against other writers of the same store.
	Update(ctx context.Context, namespace string, fn func(map[string]json.RawMessage) error) error
	Close() error
}

// Open returns the backend named by kind: "file", "sqlite" or "memory".
func Open(kind, dir, sqlitePath string) (Store, error) {
	switch kind {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", kind)
	}
}

// PutKey replaces one key of namespace, leaving every other key as stored.
func PutKey(ctx context.Context, s Store, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	return s.Update(ctx, namespace, func(m map[string]json.RawMessage) error {
		m[key] = raw
		return nil
	})
}

// GetKey decodes one key of namespace into out. It reports false when the
// key is absent.
func GetKey(ctx context.Context, s Store, namespace, key string, out any) (bool, error) {
	m, err := s.Load(ctx, namespace)
	if err != nil {
		return false, err
	}
	raw, ok := m[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

func decodeNamespace(data []byte) (map[string]json.RawMessage, error) {
	m := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]json.RawMessage)
	}
	return m, nil
}
