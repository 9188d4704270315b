package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per namespace in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS namespaces (
			name       TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:30], err)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadRow(ctx context.Context, q queryer, namespace string) (map[string]json.RawMessage, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM namespaces WHERE name = ?`, namespace).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	m, err := decodeNamespace([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", namespace, err)
	}
	return m, nil
}

func saveRow(ctx context.Context, q queryer, namespace string, values map[string]json.RawMessage) error {
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", namespace, err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO namespaces (name, data, updated_at) VALUES (?,?,?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		namespace, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadRow(ctx, s.db, namespace)
}

func (s *SQLiteStore) Save(ctx context.Context, namespace string, values map[string]json.RawMessage) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRow(ctx, s.db, namespace, values)
}

// Update runs the read-modify-write inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, namespace string, fn func(map[string]json.RawMessage) error) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	m, err := loadRow(ctx, tx, namespace)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	if err := saveRow(ctx, tx, namespace, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}
