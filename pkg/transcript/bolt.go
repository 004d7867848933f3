package transcript

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

var bucketTranscript = []byte("transcript")

// BoltStore keeps the transcript in a single bbolt bucket. Keys are the
// entry time in big-endian nanoseconds followed by its sequence number, so
// cursor order is chronological.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates a bbolt transcript file.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTranscript)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// entryKey builds the 16-byte key for e.
func entryKey(t time.Time, seq uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], seq)
	return buf
}

// timePrefix is the smallest key at or after t.
func timePrefix(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

// Append implements Store.
func (s *BoltStore) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("transcript: encode entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTranscript).Put(entryKey(e.Time, e.Seq), data)
	})
}

// Recent implements Store.
func (s *BoltStore) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTranscript).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("transcript: decode %x: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// Purge implements Store.
func (s *BoltStore) Purge(before time.Time) (int, error) {
	limit := timePrefix(before)
	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTranscript)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], limit) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	return purged, err
}

// Close implements Store.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the bbolt file.
func (s *BoltStore) Path() string {
	return s.db.Path()
}
