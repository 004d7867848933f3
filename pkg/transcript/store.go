// Package transcript persists session text so it can be reviewed after the
// fact. Two backends are available: a bbolt file and a SQLite database.
package transcript

import (
	"fmt"
	"time"

	"github.com/crystal-mush/mudrelay/pkg/config"
)

// Entry kinds.
const (
	KindLine       = "line"
	KindSent       = "sent"
	KindConnect    = "connect"
	KindDisconnect = "disconnect"
)

// Entry is one transcript record.
type Entry struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Text    string    `json:"text"`
}

// Store is a transcript backend.
type Store interface {
	// Append records e.
	Append(e Entry) error
	// Recent returns up to n of the newest entries, oldest first.
	Recent(n int) ([]Entry, error)
	// Purge deletes entries older than before and reports how many went.
	Purge(before time.Time) (int, error)
	Close() error
}

// Open opens the store for backend at path. It returns nil, nil for the
// "none" backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendBolt:
		s, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := OpenSQL(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("transcript: unknown backend %q", backend)
	}
}

// reverse flips entries gathered newest-first into chronological order.
func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
