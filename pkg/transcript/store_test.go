package transcript

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mudrelay/pkg/events"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}
	for _, backend := range []string{"bolt", "sqlite"} {
		s, err := Open(backend, filepath.Join(dir, backend+".db"))
		if err != nil {
			t.Fatalf("Open(%s): %v", backend, err)
		}
		t.Cleanup(func() { s.Close() })
		stores[backend] = s
	}
	return stores
}

func TestOpenNone(t *testing.T) {
	s, err := Open("none", "")
	if err != nil || s != nil {
		t.Errorf("Open(none) = %v, %v", s, err)
	}
	if _, err := Open("tape", "x"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestAppendRecent(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				e := Entry{Session: "s1", Seq: uint64(i + 1), Time: base.Add(time.Duration(i) * time.Second), Kind: KindLine, Text: string(rune('a' + i))}
				if err := s.Append(e); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			got, err := s.Recent(3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, want := range []string{"c", "d", "e"} {
				if got[i].Text != want {
					t.Errorf("entry %d = %q, want %q", i, got[i].Text, want)
				}
			}
			if !got[0].Time.Equal(base.Add(2*time.Second)) || got[0].Session != "s1" || got[0].Seq != 3 {
				t.Errorf("entry fields = %+v", got[0])
			}
			if none, _ := s.Recent(0); none != nil {
				t.Error("Recent(0) should be empty")
			}
		})
	}
}

func TestPurge(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				s.Append(Entry{Session: "s", Seq: uint64(i), Time: base.Add(time.Duration(i) * time.Hour), Kind: KindLine, Text: "x"})
			}
			n, err := s.Purge(base.Add(2 * time.Hour))
			if err != nil {
				t.Fatalf("Purge: %v", err)
			}
			if n != 2 {
				t.Errorf("purged %d, want 2", n)
			}
			left, _ := s.Recent(10)
			if len(left) != 2 || !left[0].Time.Equal(base.Add(2*time.Hour)) {
				t.Errorf("remaining = %+v", left)
			}
		})
	}
}

// memStore is an in-memory Store for writer tests.
type memStore struct {
	mu      sync.Mutex
	entries []Entry
	purges  int
}

func (m *memStore) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Recent(n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.entries) {
		n = len(m.entries)
	}
	return append([]Entry(nil), m.entries[len(m.entries)-n:]...), nil
}

func (m *memStore) Purge(before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return 0, nil
}

func (m *memStore) Close() error { return nil }

func TestWriterRecordsSessionEvents(t *testing.T) {
	store := &memStore{}
	w := NewWriter(store, 16)
	bus := events.NewBus()
	bus.Subscribe(w)

	now := time.Now()
	bus.Emit(events.Event{Type: events.EvConnect, Session: "abc", Time: now, Text: "mud:4000"})
	bus.Emit(events.Event{Type: events.EvLine, Session: "abc", Time: now, Text: "Welcome!"})
	bus.Emit(events.Event{Type: events.EvGMCP, Session: "abc", Time: now, Name: "Char.Vitals"})
	bus.Emit(events.Event{Type: events.EvSent, Session: "abc", Time: now, Text: "look"})
	bus.Emit(events.Event{Type: events.EvDisconnect, Session: "abc", Time: now, Reason: "end of stream"})
	w.Close()

	got, _ := store.Recent(10)
	want := []struct{ kind, text string }{
		{KindConnect, "mud:4000"},
		{KindLine, "Welcome!"},
		{KindSent, "look"},
		{KindDisconnect, "end of stream"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, exp := range want {
		if got[i].Kind != exp.kind || got[i].Text != exp.text || got[i].Session != "abc" {
			t.Errorf("entry %d = %+v, want %s %q", i, got[i], exp.kind, exp.text)
		}
		if got[i].Seq != uint64(i+1) {
			t.Errorf("entry %d seq = %d", i, got[i].Seq)
		}
	}

	if !w.Closed() {
		t.Error("writer should report closed")
	}
	bus.Emit(events.Event{Type: events.EvLine, Text: "late"})
	bus.Cleanup()
	if bus.Count() != 0 {
		t.Errorf("closed writer should be cleaned up, count = %d", bus.Count())
	}
}

// blockingStore blocks every Append until released.
type blockingStore struct {
	memStore
	release chan struct{}
}

func (b *blockingStore) Append(e Entry) error {
	<-b.release
	return b.memStore.Append(e)
}

func TestWriterDropsWhenFull(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	w := NewWriter(store, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Receive(events.Event{Type: events.EvLine, Text: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Receive blocked on a slow store")
	}
	if w.Dropped() == 0 {
		t.Error("expected dropped entries")
	}
	close(store.release)
	w.Close()
}

func TestStartRetentionCleanup(t *testing.T) {
	store := &memStore{}
	ctx, cancel := context.WithCancel(context.Background())
	StartRetentionCleanup(ctx, store, time.Hour, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	cancel()

	store.mu.Lock()
	n := store.purges
	store.mu.Unlock()
	if n == 0 {
		t.Error("cleanup never ran")
	}

	// Zero retention never starts a goroutine.
	idle := &memStore{}
	StartRetentionCleanup(context.Background(), idle, 0, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if idle.purges != 0 {
		t.Error("cleanup ran with zero retention")
	}
}
