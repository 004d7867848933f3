package transcript

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crystal-mush/mudrelay/pkg/events"
)

// Writer is an events subscriber that appends session text to a Store.
// Receive runs on the connection's read path, so entries are handed to a
// background goroutine through a bounded buffer; when the buffer is full the
// entry is dropped and counted rather than stalling the connection.
type Writer struct {
	store   Store
	entries chan Entry
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWriter starts a writer for store with room for buffer pending entries.
func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 1024
	}
	w := &Writer{
		store:   store,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.entries {
		if err := w.store.Append(e); err != nil {
			log.Warn().Str("module", "transcript").Err(err).Msg("append failed")
		}
	}
}

// Receive implements events.Subscriber.
func (w *Writer) Receive(ev events.Event) {
	e, ok := entryFor(ev)
	if !ok {
		return
	}
	e.Seq = w.seq.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.entries <- e:
	default:
		if w.dropped.Add(1) == 1 {
			log.Warn().Str("module", "transcript").Msg("writer falling behind, dropping entries")
		}
	}
}

// entryFor maps the events worth keeping onto an Entry.
func entryFor(ev events.Event) (Entry, bool) {
	e := Entry{Session: ev.Session, Time: ev.Time}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	switch ev.Type {
	case events.EvLine:
		e.Kind, e.Text = KindLine, ev.Text
	case events.EvSent:
		e.Kind, e.Text = KindSent, ev.Text
	case events.EvConnect:
		e.Kind, e.Text = KindConnect, ev.Text
	case events.EvDisconnect:
		e.Kind, e.Text = KindDisconnect, ev.Reason
	default:
		return Entry{}, false
	}
	return e, true
}

// Closed implements events.Subscriber.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Dropped reports how many entries were discarded because the store could
// not keep up.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting events and waits for pending entries to be written.
// It does not close the store.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.entries)
	w.mu.Unlock()
	<-w.done
}

// StartRetentionCleanup purges entries older than retention every interval
// until ctx is done. A zero retention disables cleanup.
func StartRetentionCleanup(ctx context.Context, store Store, retention, interval time.Duration) {
	if store == nil || retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			purged, err := store.Purge(time.Now().Add(-retention))
			if err != nil {
				log.Error().Str("module", "transcript").Err(err).Msg("retention cleanup failed")
				continue
			}
			if purged > 0 {
				log.Info().Str("module", "transcript").Int("purged", purged).Msg("purged old entries")
			}
		}
	}()
}
