package storage

import (
	"errors"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := db.Has([]byte("a/1"))
	if err != nil || !ok {
		t.Fatalf("expected key present, ok=%v err=%v", ok, err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("a/2"), []byte("two"))
	batch.Put([]byte("b/1"), []byte("other"))
	batch.Delete([]byte("a/1"))
	if batch.Len() != 3 {
		t.Fatalf("expected 3 staged ops, got %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("a/2")); ok {
		t.Fatalf("batch applied before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if ok, _ := db.Has([]byte("a/1")); ok {
		t.Fatalf("expected a/1 deleted by batch")
	}
	value, err := db.Get([]byte("a/2"))
	if err != nil || string(value) != "two" {
		t.Fatalf("unexpected a/2: %q %v", value, err)
	}

	var seen []string
	if err := db.Iterate([]byte("a/"), func(key, _ []byte) bool {
		seen = append(seen, string(key))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 1 || seen[0] != "a/2" {
		t.Fatalf("unexpected prefix scan: %v", seen)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
	got[1] = 'z'
	again, _ := db.Get([]byte("k"))
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored slice: %q", again)
	}
}
