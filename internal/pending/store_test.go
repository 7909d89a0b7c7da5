package pending

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("chapter1", "alice"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	author, err := s.Get("chapter1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if author != "alice" {
		t.Fatalf("Get() = %q, want alice", author)
	}
	if err := s.Delete("alice", "chapter1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("chapter1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete = %v, want ErrNotFound", err)
	}
}

func TestPutLastWriteWins(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("глава1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("глава1", "bob"); err != nil {
		t.Fatal(err)
	}
	author, err := s.Get("глава1")
	if err != nil {
		t.Fatal(err)
	}
	if author != "bob" {
		t.Fatalf("second Put must win: got %q", author)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("duplicate key must not duplicate rows: count = %d", n)
	}
}

func TestDeleteRequiresMatchingAuthor(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("chapter1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("bob", "chapter1"); err != nil {
		t.Fatalf("Delete() with wrong author error = %v", err)
	}
	if _, err := s.Get("chapter1"); err != nil {
		t.Fatalf("record must survive a delete keyed to another author: %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("", "alice"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Put(\"\") = %v, want ErrEmptyKey", err)
	}
	if _, err := s.Get(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(\"\") = %v, want ErrNotFound", err)
	}
}

func TestAllAndClear(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("a1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("b2", "bob"); err != nil {
		t.Fatal(err)
	}

	recs, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("All() returned %d records, want 2", len(recs))
	}
	if recs[0].Filename != "a1" || recs[0].Author != "alice" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("Clear() left %d records", n)
	}
}
