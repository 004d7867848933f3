package roomstate

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Format renders a snapshot for display.
func Format(s *Snapshot) string {
	if s == nil || s.Empty() {
		return "no data"
	}
	var b strings.Builder
	b.WriteString("Room: ")
	if id, ok := s.RoomID(); ok {
		b.WriteString(id)
	} else {
		b.WriteString("unknown")
	}
	for _, name := range s.names {
		b.WriteString("\n\n")
		b.WriteString(name)
		body := indent(s.payloads[name])
		if strings.Contains(body, "\n") {
			b.WriteString(":\n")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(body)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s *Snapshot) String() string {
	return Format(s)
}

func indent(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// MarshalJSON renders the snapshot as {"room": ..., "messages": {...}} with
// messages in insertion order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"room":`)
	if s.hasRoom {
		room, err := json.Marshal(s.room)
		if err != nil {
			return nil, err
		}
		b.Write(room)
	} else {
		b.WriteString("null")
	}
	b.WriteString(`,"messages":{`)
	for i, name := range s.names {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		payload := s.payloads[name]
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(payload))
		}
		b.Write(payload)
	}
	b.WriteString("}}")
	return b.Bytes(), nil
}
