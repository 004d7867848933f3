// Package roomstate folds GMCP messages into a snapshot of the player's
// current room. Snapshots are immutable and published with a single atomic
// swap, so readers never lock and never see a half-applied update.
package roomstate

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync/atomic"
)

// RoomMessage is the lower-cased message name that carries room identity.
const RoomMessage = "room.info"

// idFields are checked in order; the first present, non-null, primitive value
// becomes the room id.
var idFields = []string{"id", "num", "vnum", "room_id", "roomId", "identifier"}

// Snapshot is an immutable view of the current room and the last payload
// seen for each message name since entering it.
type Snapshot struct {
	room     string
	hasRoom  bool
	names    []string
	payloads map[string]json.RawMessage
}

var empty = &Snapshot{payloads: map[string]json.RawMessage{}}

// RoomID returns the current room identifier, if known.
func (s *Snapshot) RoomID() (string, bool) {
	return s.room, s.hasRoom
}

// Names returns message names in order of first appearance.
func (s *Snapshot) Names() []string {
	return append([]string(nil), s.names...)
}

// Payload returns the last payload recorded for name (lower-cased).
func (s *Snapshot) Payload(name string) (json.RawMessage, bool) {
	p, ok := s.payloads[strings.ToLower(name)]
	return p, ok
}

// Len returns the number of stored messages.
func (s *Snapshot) Len() int {
	return len(s.names)
}

// Empty reports whether the snapshot holds neither a room nor any messages.
func (s *Snapshot) Empty() bool {
	return !s.hasRoom && len(s.names) == 0
}

// with returns a copy of s with name set to payload. When reset is true the
// copy starts from no messages at all.
func (s *Snapshot) with(room string, hasRoom bool, reset bool, name string, payload json.RawMessage) *Snapshot {
	next := &Snapshot{room: room, hasRoom: hasRoom}
	if reset {
		next.names = []string{name}
		next.payloads = map[string]json.RawMessage{name: payload}
		return next
	}
	next.names = make([]string, 0, len(s.names)+1)
	next.names = append(next.names, s.names...)
	next.payloads = make(map[string]json.RawMessage, len(s.payloads)+1)
	for k, v := range s.payloads {
		next.payloads[k] = v
	}
	if _, seen := next.payloads[name]; !seen {
		next.names = append(next.names, name)
	}
	next.payloads[name] = payload
	return next
}

// Aggregator holds the current snapshot.
type Aggregator struct {
	cur atomic.Pointer[Snapshot]
}

// New returns an aggregator holding the empty snapshot.
func New() *Aggregator {
	a := &Aggregator{}
	a.cur.Store(empty)
	return a
}

// Snapshot returns the current snapshot.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.cur.Load()
}

// Clear resets to the empty snapshot.
func (a *Aggregator) Clear() {
	a.cur.Store(empty)
}

// Update records payload under name. It is a no-op for a blank name or an empty
// payload. A room-identity message carrying a new room id discards every
// message recorded for the previous room.
func (a *Aggregator) Update(name string, payload json.RawMessage) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || len(payload) == 0 {
		return
	}
	payload = append(json.RawMessage(nil), payload...)

	var newRoom string
	var hasNew bool
	if key == RoomMessage {
		newRoom, hasNew = extractRoomID(payload)
	}

	for {
		old := a.cur.Load()
		room, hasRoom := old.room, old.hasRoom
		reset := false
		if hasNew && (!hasRoom || newRoom != room) {
			room, hasRoom, reset = newRoom, true, true
		}
		if a.cur.CompareAndSwap(old, old.with(room, hasRoom, reset, key, payload)) {
			return
		}
	}
}

// extractRoomID pulls the room identifier out of a Room.Info object.
func extractRoomID(payload json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", false
	}
	for _, field := range idFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		if id, ok := primitive(raw); ok {
			return id, true
		}
	}
	return "", false
}

// primitive renders a JSON string, number or boolean as text.
func primitive(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		return string(raw), true
	case 'n', '{', '[':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}
