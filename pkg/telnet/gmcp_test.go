package telnet

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeGMCP(t *testing.T) {
	buf := EncodeGMCP("Core.Hello", []byte(`{"client":"x"}`))
	if buf[0] != IAC || buf[1] != SB || buf[2] != TeloptGMCP {
		t.Error("bad GMCP prefix")
	}
	if buf[len(buf)-2] != IAC || buf[len(buf)-1] != SE {
		t.Error("bad GMCP suffix")
	}
	payload := string(buf[3 : len(buf)-2])
	if payload != `Core.Hello {"client":"x"}` {
		t.Errorf("payload = %q", payload)
	}
}

func TestEncodeGMCPNoData(t *testing.T) {
	buf := EncodeGMCP("Core.Ping", nil)
	if got := string(buf[3 : len(buf)-2]); got != "Core.Ping" {
		t.Errorf("payload = %q, want Core.Ping", got)
	}
}

func TestEncodeSubnegotiationDoublesIAC(t *testing.T) {
	buf := EncodeSubnegotiation(TeloptGMCP, []byte{'a', IAC, 'b'})
	want := []byte{IAC, SB, TeloptGMCP, 'a', IAC, IAC, 'b', IAC, SE}
	if !bytes.Equal(buf, want) {
		t.Errorf("got % x, want % x", buf, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{'x', IAC, IAC, 0, SE, 'y'}
	var got []byte
	d := NewDecoder(nil, Config{OnMessage: func(p []byte) { got = append([]byte(nil), p...) }})
	d.Decode(nil, EncodeSubnegotiation(TeloptGMCP, payload))
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip = % x, want % x", got, payload)
	}
}

func TestParseGMCPMessage(t *testing.T) {
	pkg, jsonData := ParseGMCPMessage([]byte(`Char.Vitals {"hp":10}`))
	if pkg != "Char.Vitals" {
		t.Errorf("expected Char.Vitals, got %q", pkg)
	}
	if string(jsonData) != `{"hp":10}` {
		t.Errorf("unexpected JSON data: %s", jsonData)
	}

	pkg, jsonData = ParseGMCPMessage([]byte("Core.Ping"))
	if pkg != "Core.Ping" {
		t.Errorf("expected Core.Ping, got %q", pkg)
	}
	if jsonData != nil {
		t.Error("expected nil jsonData for package without data")
	}
}

func TestHandshake(t *testing.T) {
	frames := Identity{ClientName: "tester", ClientVersion: "2.1", Supports: []string{"Room 1"}}.Handshake()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	pkg, data := ParseGMCPMessage(frames[0][3 : len(frames[0])-2])
	if pkg != "Core.Hello" {
		t.Errorf("first frame = %q, want Core.Hello", pkg)
	}
	var hello map[string]string
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("hello JSON: %v", err)
	}
	if hello["client"] != "tester" || hello["version"] != "2.1" {
		t.Errorf("hello = %v", hello)
	}

	pkg, data = ParseGMCPMessage(frames[1][3 : len(frames[1])-2])
	if pkg != "Core.Supports.Set" {
		t.Errorf("second frame = %q, want Core.Supports.Set", pkg)
	}
	if string(data) != `["Room 1"]` {
		t.Errorf("supports = %s", data)
	}
}

func TestDefaultIdentityAsksForRoomInfo(t *testing.T) {
	id := DefaultIdentity()
	found := false
	for _, s := range id.Supports {
		if strings.HasPrefix(s, "Room") {
			found = true
		}
	}
	if !found {
		t.Errorf("default supports %v should include a Room package", id.Supports)
	}
}
