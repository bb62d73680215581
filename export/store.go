package export

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrRecordNotFound indicates the requested record doesn't exist.
var ErrRecordNotFound = errors.New("record not found")

// Store is the SQLite transform history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (and if needed initializes) the history database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transforms (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		record BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put persists one record.
func (s *Store) Put(r *Record) error {
	data, err := MarshalRecord(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO transforms (id, target, created_at, record) VALUES (?, ?, ?, ?)",
		r.ID, r.Target, r.CreatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

// Get retrieves one record by id.
func (s *Store) Get(id string) (*Record, error) {
	var data []byte
	err := s.db.QueryRow("SELECT record FROM transforms WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return UnmarshalRecord(data)
}

// ByTarget returns the records for one target class, newest first.
func (s *Store) ByTarget(target string) ([]*Record, error) {
	rows, err := s.db.Query(
		"SELECT record FROM transforms WHERE target = ? ORDER BY created_at DESC", target,
	)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := UnmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
