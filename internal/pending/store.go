// Package pending persists the correlation between a normalized
// filename and the author who submitted it. Records are created when
// a file is forwarded to the editor and destroyed once the matching
// reply reaches the author.
package pending

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned by Get when no live record matches the
	// filename key.
	ErrNotFound = errors.New("pending: no record for filename")
	// ErrEmptyKey rejects operations on an empty correlation key.
	ErrEmptyKey = errors.New("pending: empty filename key")
)

// Record is one live correlation entry.
type Record struct {
	Author   string
	Filename string
}

// Store is a SQLite-backed correlation table. Every operation is
// serialized behind a mutex; a document's lifecycle touches the
// store at most twice (insert, then delete), so no cross-operation
// transactions are needed.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	filename TEXT NOT NULL PRIMARY KEY,
	username TEXT NOT NULL
);`

// Open creates or opens the correlation database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("pending: empty database path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("pending: open %s: %w", path, err)
	}
	// A single connection keeps sqlite writes serialized alongside
	// the store mutex.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pending: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Put records that author submitted the file identified by key.
// A second Put for the same key overwrites the previous author
// (last-write-wins); exactly one live author per key at any time.
func (s *Store) Put(key, author string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO files (filename, username) VALUES (?, ?)
		 ON CONFLICT(filename) DO UPDATE SET username = excluded.username`,
		key, author,
	)
	if err != nil {
		return fmt.Errorf("pending: put %q: %w", key, err)
	}
	return nil
}

// Get resolves the author for a filename key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var author string
	err := s.db.QueryRow(`SELECT username FROM files WHERE filename = ?`, key).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pending: get %q: %w", key, err)
	}
	return author, nil
}

// Delete removes the record for (author, key). Deleting a record that
// does not exist is not an error.
func (s *Store) Delete(author, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM files WHERE username = ? AND filename = ?`, author, key); err != nil {
		return fmt.Errorf("pending: delete %q: %w", key, err)
	}
	return nil
}

// Count returns the number of live records. Used for operator
// feedback ("queue drained"), not for control flow.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending: count: %w", err)
	}
	return n, nil
}

// All returns a snapshot of every live record, taken under the store
// lock so the out-of-band error scan sees a stable view.
func (s *Store) All() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT username, filename FROM files ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("pending: list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Author, &r.Filename); err != nil {
			return nil, fmt.Errorf("pending: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending: list: %w", err)
	}
	return out, nil
}

// Clear drops every live record. Called on session stop.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("pending: clear: %w", err)
	}
	return nil
}
