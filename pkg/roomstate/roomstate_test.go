package roomstate

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestNewIsEmpty(t *testing.T) {
	a := New()
	s := a.Snapshot()
	if !s.Empty() {
		t.Fatal("new aggregator should be empty")
	}
	if _, ok := s.RoomID(); ok {
		t.Error("new snapshot should have no room")
	}
	if got := Format(s); got != "no data" {
		t.Errorf("Format = %q, want %q", got, "no data")
	}
}

func TestUpdateIgnoresBlankInput(t *testing.T) {
	a := New()
	a.Update("", raw(`{"id":1}`))
	a.Update("   ", raw(`{"id":1}`))
	a.Update("Char.Vitals", nil)
	a.Update("Char.Vitals", raw(""))
	if !a.Snapshot().Empty() {
		t.Error("blank updates should be no-ops")
	}
}

func TestRoomChangeResetsMessages(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id": "42"}`))
	a.Update("Char.Vitals", raw(`{"hp": 10}`))

	s := a.Snapshot()
	if id, _ := s.RoomID(); id != "42" {
		t.Fatalf("room = %q, want 42", id)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 messages in room 42, got %d", s.Len())
	}

	a.Update("Room.Info", raw(`{"id": "43"}`))
	s = a.Snapshot()
	if id, _ := s.RoomID(); id != "43" {
		t.Errorf("room = %q, want 43", id)
	}
	if _, ok := s.Payload("char.vitals"); ok {
		t.Error("vitals from room 42 leaked into room 43")
	}
	if names := s.Names(); len(names) != 1 || names[0] != "room.info" {
		t.Errorf("names = %v, want [room.info]", names)
	}
}

func TestSameRoomKeepsMessages(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"num": 7}`))
	a.Update("Char.Vitals", raw(`{"hp": 10}`))
	a.Update("Room.Info", raw(`{"num": 7, "name": "Hall"}`))
	a.Update("Char.Vitals", raw(`{"hp": 9}`))

	s := a.Snapshot()
	if id, _ := s.RoomID(); id != "7" {
		t.Errorf("room = %q, want 7", id)
	}
	p, ok := s.Payload("CHAR.VITALS")
	if !ok || string(p) != `{"hp": 9}` {
		t.Errorf("vitals = %s, want latest payload", p)
	}
	if names := s.Names(); len(names) != 2 || names[0] != "room.info" || names[1] != "char.vitals" {
		t.Errorf("names = %v", names)
	}
}

func TestRoomIDExtraction(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		ok      bool
	}{
		{`{"id": "abc"}`, "abc", true},
		{`{"num": 42}`, "42", true},
		{`{"num": 4.5e1}`, "4.5e1", true},
		{`{"id": null, "num": 3}`, "3", true},
		{`{"id": {"x": 1}, "vnum": "v9"}`, "v9", true},
		{`{"id": [1], "room_id": true}`, "true", true},
		{`{"name": "Hall"}`, "", false},
		{`[1,2]`, "", false},
		{`"42"`, "", false},
		{`not json`, "", false},
	}
	for _, tt := range tests {
		got, ok := extractRoomID(raw(tt.payload))
		if got != tt.want || ok != tt.ok {
			t.Errorf("extractRoomID(%s) = %q,%v want %q,%v", tt.payload, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoomInfoWithoutIDKeepsRoom(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id": 1}`))
	a.Update("Char.Vitals", raw(`{"hp": 1}`))
	a.Update("Room.Info", raw(`{"name": "no id here"}`))

	s := a.Snapshot()
	if id, _ := s.RoomID(); id != "1" {
		t.Errorf("room = %q, want 1", id)
	}
	if _, ok := s.Payload("char.vitals"); !ok {
		t.Error("vitals should survive a room message without an id")
	}
}

func TestMessagesBeforeAnyRoom(t *testing.T) {
	a := New()
	a.Update("Char.Vitals", raw(`{"hp": 1}`))
	s := a.Snapshot()
	if _, ok := s.RoomID(); ok {
		t.Error("no room expected")
	}
	a.Update("Room.Info", raw(`{"id": 5}`))
	if _, ok := a.Snapshot().Payload("char.vitals"); ok {
		t.Error("first room id should reset earlier messages")
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id": 1}`))
	before := a.Snapshot()
	a.Update("Char.Vitals", raw(`{"hp": 1}`))
	if before.Len() != 1 {
		t.Errorf("earlier snapshot changed: len %d", before.Len())
	}
	names := before.Names()
	names[0] = "mutated"
	if before.Names()[0] != "room.info" {
		t.Error("Names must return a copy")
	}
}

func TestClear(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id": 1}`))
	a.Clear()
	if !a.Snapshot().Empty() {
		t.Error("Clear should reset to empty")
	}
}

func TestConcurrentReaders(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := a.Snapshot()
				id, ok := s.RoomID()
				if !ok {
					continue
				}
				// Every vitals payload is tagged with the room it was sent in.
				if p, ok := s.Payload("char.vitals"); ok {
					var v struct {
						Room string `json:"room"`
					}
					if err := json.Unmarshal(p, &v); err == nil && v.Room != id {
						t.Errorf("vitals for room %s visible in room %s", v.Room, id)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		id := string(rune('a' + i%26))
		a.Update("Room.Info", raw(`{"id":"`+id+`"}`))
		a.Update("Char.Vitals", raw(`{"room":"`+id+`"}`))
	}
	close(done)
	wg.Wait()
}

func TestFormat(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id":"42"}`))
	a.Update("Char.Level", raw(`7`))

	got := Format(a.Snapshot())
	want := "Room: 42\n\nroom.info:\n{\n  \"id\": \"42\"\n}\n\nchar.level: 7"
	if got != want {
		t.Errorf("Format =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatUnknownRoom(t *testing.T) {
	a := New()
	a.Update("Char.Vitals", raw(`{"hp":3}`))
	if got := Format(a.Snapshot()); !strings.HasPrefix(got, "Room: unknown\n\nchar.vitals:") {
		t.Errorf("Format = %q", got)
	}
}

func TestMarshalJSON(t *testing.T) {
	a := New()
	a.Update("Room.Info", raw(`{"id":"42"}`))
	a.Update("Char.Vitals", raw(`{"hp":3}`))
	a.Update("Comm.Bad", raw(`not json`))

	b, err := json.Marshal(a.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"room":"42","messages":{"room.info":{"id":"42"},"char.vitals":{"hp":3},"comm.bad":"not json"}}`
	if string(b) != want {
		t.Errorf("json = %s\nwant %s", b, want)
	}

	b, _ = json.Marshal(New().Snapshot())
	if string(b) != `{"room":null,"messages":{}}` {
		t.Errorf("empty json = %s", b)
	}
}
