package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crystal-mush/mudrelay/pkg/events"
	"github.com/crystal-mush/mudrelay/pkg/relay"
	"github.com/crystal-mush/mudrelay/pkg/roomstate"
)

const consoleHelp = `Console commands:
  /room        Show the current room snapshot
  /status      Show connection status and traffic
  /reconnect   Drop and re-open the connection
  /quit        Disconnect and exit
Anything else is sent to the game. Start a line with // to send a literal /.`

func consoleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Play interactively from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer cancel()

			a, err := newApp(g, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(ctx)

			ed := newLineEditor("> ")
			defer ed.Close()
			a.relay.Bus().Subscribe(events.Func(func(ev events.Event) {
				if s, ok := consoleText(ev); ok {
					ed.Println(s)
				}
			}))

			runErr := make(chan error, 1)
			go func() {
				runErr <- a.relay.Run(ctx)
				// Unblock ReadLine so the loop below notices.
				cancel()
				ed.Close()
			}()

			ed.Println(consoleHelp)
			for ctx.Err() == nil {
				line, err := ed.ReadLine()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						log.Warn().Err(err).Msg("reading input")
					}
					break
				}
				if quit := handleInput(ctx, a.relay, ed, line); quit {
					break
				}
			}
			cancel()
			return <-runErr
		},
	}
}

// handleInput runs a slash command or sends line to the game. It reports
// whether the console should exit.
func handleInput(ctx context.Context, r *relay.Relay, ed *lineEditor, line string) bool {
	switch {
	case strings.HasPrefix(line, "//"):
		line = line[1:]
	case strings.HasPrefix(line, "/"):
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "/quit":
			return true
		case "/room":
			ed.Println(roomstate.Format(r.Snapshot()))
		case "/status":
			ed.Println(formatStatus(r.Status(), time.Now()))
		case "/reconnect":
			if err := r.Reconnect(ctx, "reconnect requested"); err != nil {
				ed.Println("reconnect failed: " + err.Error())
			}
		default:
			ed.Println(consoleHelp)
		}
		return false
	}
	if err := r.Send(line); err != nil {
		ed.Println("not sent: " + err.Error())
	}
	return false
}

// consoleText renders the events a player wants to see.
func consoleText(ev events.Event) (string, bool) {
	switch ev.Type {
	case events.EvLine:
		return ev.Text, true
	case events.EvConnect:
		return "-- connected to " + ev.Text, true
	case events.EvDisconnect:
		return "-- disconnected: " + ev.Reason, true
	default:
		return "", false
	}
}

func formatStatus(st relay.Status, now time.Time) string {
	var b strings.Builder
	if st.Connected {
		fmt.Fprintf(&b, "Connected to %s for %s\n", st.Addr,
			durafmt.Parse(now.Sub(st.Since).Truncate(time.Second)).LimitFirstN(2))
	} else {
		b.WriteString("Disconnected\n")
	}
	fmt.Fprintf(&b, "Session:  %s\n", st.Session)
	fmt.Fprintf(&b, "Received: %s in %s lines\n", humanize.Bytes(st.Stats.BytesReceived), humanize.Comma(int64(st.Stats.LinesReceived)))
	fmt.Fprintf(&b, "Sent:     %s in %s lines", humanize.Bytes(st.Stats.BytesSent), humanize.Comma(int64(st.Stats.LinesSent)))
	return b.String()
}
