package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crystal-mush/mudrelay/pkg/config"
	"github.com/crystal-mush/mudrelay/pkg/conn"
	"github.com/crystal-mush/mudrelay/pkg/events"
	"github.com/crystal-mush/mudrelay/pkg/relay"
	"github.com/crystal-mush/mudrelay/pkg/transcript"
)

func TestSetupLoggingLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	tests := []struct {
		level, override string
		want            zerolog.Level
	}{
		{"debug", "", zerolog.DebugLevel},
		{"warn", "error", zerolog.ErrorLevel},
		{"", "", zerolog.InfoLevel},
		{"bogus", "", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		setupLogging(&bytes.Buffer{}, config.Logging{Level: tt.level}, tt.override)
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("level %q override %q: got %v, want %v", tt.level, tt.override, got, tt.want)
		}
	}
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv("MUDRELAY_HOST", "mud.example.org")
	t.Setenv("MUDRELAY_PORT", "2323")
	g := &globalFlags{configPath: filepath.Join(t.TempDir(), "absent.yaml")}
	cfg, err := g.loadConfig(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Endpoint() != "mud.example.org:2323" {
		t.Errorf("endpoint = %q", cfg.Endpoint())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mudrelay.yaml")
	os.WriteFile(path, []byte("port: 0\n"), 0o644)
	g := &globalFlags{configPath: path}
	if _, err := g.loadConfig(&bytes.Buffer{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := relay.Status{
		Connected: true,
		Session:   "abc",
		Addr:      "10.0.0.1:4000",
		Since:     now.Add(-90 * time.Minute),
		Stats:     conn.Stats{BytesReceived: 2_500_000, LinesReceived: 12345, BytesSent: 42, LinesSent: 3},
	}
	got := formatStatus(st, now)
	for _, want := range []string{"10.0.0.1:4000", "1 hour 30 minutes", "2.5 MB", "12,345 lines", "42 B"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
	if got := formatStatus(relay.Status{}, now); !strings.HasPrefix(got, "Disconnected") {
		t.Errorf("disconnected status = %q", got)
	}
}

func TestConsoleText(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
		ok   bool
	}{
		{events.Event{Type: events.EvLine, Text: "Hello"}, "Hello", true},
		{events.Event{Type: events.EvConnect, Text: "1.2.3.4:23"}, "-- connected to 1.2.3.4:23", true},
		{events.Event{Type: events.EvDisconnect, Reason: "end of stream"}, "-- disconnected: end of stream", true},
		{events.Event{Type: events.EvGMCP, Name: "Room.Info"}, "", false},
	}
	for _, tt := range tests {
		got, ok := consoleText(tt.ev)
		if got != tt.want || ok != tt.ok {
			t.Errorf("consoleText(%v) = %q, %v", tt.ev.Type, got, ok)
		}
	}
}

func TestHandleInput(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	r, err := relay.New(cfg, relay.Options{})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	ed := &lineEditor{out: &out}
	ctx := context.Background()

	if handleInput(ctx, r, ed, "/room") {
		t.Error("/room should not quit")
	}
	if !strings.Contains(out.String(), "no data") {
		t.Errorf("/room output = %q", out.String())
	}

	out.Reset()
	handleInput(ctx, r, ed, "look")
	if !strings.Contains(out.String(), "not sent: not connected") {
		t.Errorf("send output = %q", out.String())
	}

	out.Reset()
	handleInput(ctx, r, ed, "/bogus")
	if !strings.Contains(out.String(), "Console commands") {
		t.Errorf("help output = %q", out.String())
	}

	if !handleInput(ctx, r, ed, "/QUIT") {
		t.Error("/quit should quit")
	}
}

func TestFormatEntry(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local)
	tests := []struct {
		e    transcript.Entry
		want string
	}{
		{transcript.Entry{Time: ts, Kind: transcript.KindLine, Text: "hi"}, "2026-01-01 12:00:00  hi"},
		{transcript.Entry{Time: ts, Kind: transcript.KindSent, Text: "look"}, "2026-01-01 12:00:00> look"},
		{transcript.Entry{Time: ts, Kind: transcript.KindDisconnect, Text: "shutdown"}, "2026-01-01 12:00:00 -- disconnect shutdown"},
	}
	for _, tt := range tests {
		if got := formatEntry(tt.e); got != tt.want {
			t.Errorf("formatEntry = %q, want %q", got, tt.want)
		}
	}
}

func TestReloadKeepsLogLevelOverride(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	g := &globalFlags{configPath: filepath.Join(t.TempDir(), "mudrelay.yaml"), logLevel: "error"}
	a, err := newApp(g, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	next := config.Default()
	next.Host = "127.0.0.1"
	next.Logging.Level = "debug"
	a.reload(context.Background(), next)
	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Errorf("level after reload = %v, want error", got)
	}
	if a.relay.Config() != next {
		t.Error("reloaded config not applied")
	}
}
