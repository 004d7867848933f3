package transcript

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS transcript (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT    NOT NULL,
	seq     INTEGER NOT NULL,
	ts      INTEGER NOT NULL,
	kind    TEXT    NOT NULL,
	text    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS transcript_ts ON transcript(ts);
`

// SQLStore keeps the transcript in a SQLite database.
type SQLStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// OpenSQL opens a SQLite database, sets WAL mode and busy timeout, and
// creates the transcript table.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(transcriptSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating transcript table: %w", err)
	}
	return &SQLStore{db: db, path: path}, nil
}

// Append implements Store.
func (s *SQLStore) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO transcript (session, seq, ts, kind, text) VALUES (?, ?, ?, ?, ?)",
		e.Session, int64(e.Seq), e.Time.UnixNano(), e.Kind, e.Text,
	)
	if err != nil {
		return fmt.Errorf("transcript: insert: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLStore) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		"SELECT session, seq, ts, kind, text FROM transcript ORDER BY ts DESC, id DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("transcript: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var seq, ts int64
		if err := rows.Scan(&e.Session, &seq, &ts, &e.Kind, &e.Text); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		e.Seq = uint64(seq)
		e.Time = time.Unix(0, ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// Purge implements Store.
func (s *SQLStore) Purge(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM transcript WHERE ts < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("transcript: purge: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *SQLStore) Path() string { return s.path }
