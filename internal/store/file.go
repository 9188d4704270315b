package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore keeps one JSON file per namespace in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(namespace, "_")+".json")
}

// Load reads namespace. A missing file is an empty namespace.
func (s *FileStore) Load(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(namespace)
}

func (s *FileStore) load(namespace string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("read %s: %w", namespace, err)
	}
	m, err := decodeNamespace(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", namespace, err)
	}
	return m, nil
}

func (s *FileStore) Save(ctx context.Context, namespace string, values map[string]json.RawMessage) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(namespace, values)
}

// save writes through a temp file so readers never see a partial document.
func (s *FileStore) save(namespace string, values map[string]json.RawMessage) error {
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", namespace, err)
	}
	target := s.path(namespace)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", namespace, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace %s: %w", namespace, err)
	}
	return nil
}

func (s *FileStore) Update(ctx context.Context, namespace string, fn func(map[string]json.RawMessage) error) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load(namespace)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.save(namespace, m)
}

func (s *FileStore) Close() error { return nil }
