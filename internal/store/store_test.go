package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	sq, err := NewSQLiteStore(filepath.Join(dir, "chart.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"file":   fs,
		"sqlite": sq,
		"memory": NewMemoryStore(),
	}
}

func TestStore_LoadMissingNamespace(t *testing.T) {
	for name, s := range backends(t) {
		m, err := s.Load(context.Background(), "chart_drawings")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(m) != 0 {
			t.Errorf("%s: expected empty namespace, got %v", name, m)
		}
	}
}

func TestStore_PutKeyLeavesOtherKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		if err := PutKey(ctx, s, "chart_drawings", "A", []int{1, 2}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := PutKey(ctx, s, "chart_drawings", "B", []int{3}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := PutKey(ctx, s, "chart_drawings", "B", []int{4}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		var a, b []int
		if ok, err := GetKey(ctx, s, "chart_drawings", "A", &a); err != nil || !ok {
			t.Fatalf("%s: get A: %v %v", name, ok, err)
		}
		if ok, err := GetKey(ctx, s, "chart_drawings", "B", &b); err != nil || !ok {
			t.Fatalf("%s: get B: %v %v", name, ok, err)
		}
		if len(a) != 2 || a[0] != 1 || a[1] != 2 {
			t.Errorf("%s: A = %v", name, a)
		}
		if len(b) != 1 || b[0] != 4 {
			t.Errorf("%s: B = %v", name, b)
		}

		other, err := s.Load(ctx, "chart_studies")
		if err != nil || len(other) != 0 {
			t.Errorf("%s: other namespace touched: %v %v", name, other, err)
		}
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		s.Save(ctx, "ns", map[string]json.RawMessage{"A": json.RawMessage(`[1]`), "B": json.RawMessage(`[2]`)})
		if err := s.Save(ctx, "ns", map[string]json.RawMessage{"C": json.RawMessage(`[]`)}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		m, err := s.Load(ctx, "ns")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(m) != 1 || string(m["C"]) != "[]" {
			t.Errorf("%s: got %v", name, m)
		}
	}
}

func TestStore_UpdateErrorKeepsState(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range backends(t) {
		PutKey(ctx, s, "ns", "A", 1)
		err := s.Update(ctx, "ns", func(m map[string]json.RawMessage) error {
			m["A"] = json.RawMessage(`2`)
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("%s: err = %v", name, err)
		}
		var v int
		GetKey(ctx, s, "ns", "A", &v)
		if v != 1 {
			t.Errorf("%s: A = %d after failed update", name, v)
		}
	}
}

func TestStore_EmptyNamespace(t *testing.T) {
	for name, s := range backends(t) {
		if _, err := s.Load(context.Background(), ""); !errors.Is(err, ErrEmptyNamespace) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestFileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s1, _ := NewFileStore(dir)
	PutKey(context.Background(), s1, "chart_studies", "Crypto.BTC/USD", []string{"RSI"})

	s2, _ := NewFileStore(dir)
	var got []string
	ok, err := GetKey(context.Background(), s2, "chart_studies", "Crypto.BTC/USD", &got)
	if err != nil || !ok || len(got) != 1 || got[0] != "RSI" {
		t.Errorf("got %v %v %v", got, ok, err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("redis", "", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
