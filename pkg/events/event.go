package events

import (
	"encoding/json"
	"time"
)

// EventType classifies events flowing out of a relay session.
type EventType int

const (
	EvLine       EventType = iota // Decoded, sanitized line from the server
	EvGMCP                        // Structured out-of-band message
	EvRoom                        // Room identity changed or refreshed
	EvConnect                     // Session connected
	EvDisconnect                  // Session disconnected
	EvSent                        // Lines written to the server
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvLine:
		return "line"
	case EvGMCP:
		return "gmcp"
	case EvRoom:
		return "room"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvSent:
		return "sent"
	default:
		return "unknown"
	}
}

// MarshalText lets EventType appear as its name in JSON.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is a single occurrence on a relay session. Subscribers pick the
// fields that matter for their transport.
type Event struct {
	Type    EventType       `json:"type"`
	Session string          `json:"session,omitempty"`
	Time    time.Time       `json:"time"`
	Text    string          `json:"text,omitempty"`   // EvLine, EvSent (newline-joined)
	Name    string          `json:"name,omitempty"`   // EvGMCP message name, EvRoom room id
	Data    json.RawMessage `json:"data,omitempty"`   // EvGMCP payload, EvRoom snapshot
	Reason  string          `json:"reason,omitempty"` // EvDisconnect
}

// JSONData returns p as an Event.Data value. A payload that is not valid
// JSON is carried as a JSON string so the event still marshals.
func JSONData(p []byte) json.RawMessage {
	if len(p) == 0 {
		return nil
	}
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	quoted, _ := json.Marshal(string(p))
	return quoted
}
