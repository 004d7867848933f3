package telnet

import (
	"encoding/json"
	"fmt"
)

// RoomInfoMessage is the GMCP package that carries the player's location.
const RoomInfoMessage = "Room.Info"

// Identity is what the client announces to the server once GMCP is accepted.
type Identity struct {
	ClientName    string
	ClientVersion string
	// Supports lists the GMCP packages the client wants, e.g. "Room 1".
	Supports []string
}

// DefaultIdentity returns the identity sent when none is configured.
func DefaultIdentity() Identity {
	return Identity{
		ClientName:    "mudrelay",
		ClientVersion: "1.0",
		Supports:      []string{"Char 1", "Char.Vitals 1", "Room 1", "Room.Info 1"},
	}
}

// Handshake returns the two GMCP frames announcing the client: Core.Hello
// followed by Core.Supports.Set.
func (id Identity) Handshake() [][]byte {
	hello, _ := json.Marshal(map[string]string{
		"client":  id.ClientName,
		"version": id.ClientVersion,
	})
	supports := id.Supports
	if supports == nil {
		supports = []string{}
	}
	set, _ := json.Marshal(supports)
	return [][]byte{
		EncodeGMCP("Core.Hello", hello),
		EncodeGMCP("Core.Supports.Set", set),
	}
}

// EncodeGMCP frames a GMCP message as a telnet subnegotiation.
// Format: IAC SB 201 <package> <space> <json> IAC SE
// A nil data slice produces a package-only message.
func EncodeGMCP(pkg string, data []byte) []byte {
	payload := []byte(pkg)
	if data != nil {
		payload = fmt.Appendf(payload, " %s", data)
	}
	return EncodeSubnegotiation(TeloptGMCP, payload)
}

// EncodeSubnegotiation wraps payload in IAC SB <opt> ... IAC SE, doubling any
// literal IAC bytes in the payload.
func EncodeSubnegotiation(opt byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+5)
	buf = append(buf, IAC, SB, opt)
	for _, b := range payload {
		if b == IAC {
			buf = append(buf, IAC)
		}
		buf = append(buf, b)
	}
	buf = append(buf, IAC, SE)
	return buf
}

// ParseGMCPMessage splits a GMCP payload (the raw bytes between SB 201 and
// IAC SE) into its package name and JSON data. jsonData is nil when the
// message has no data part.
func ParseGMCPMessage(data []byte) (pkg string, jsonData []byte) {
	for i, b := range data {
		if b == ' ' {
			return string(data[:i]), data[i+1:]
		}
	}
	return string(data), nil
}
