// Package relay runs one game session: it owns the connection, folds GMCP
// into the room snapshot, publishes everything on an event bus and keeps the
// connection alive according to the reconnect policy.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/crystal-mush/mudrelay/pkg/config"
	"github.com/crystal-mush/mudrelay/pkg/conn"
	"github.com/crystal-mush/mudrelay/pkg/events"
	"github.com/crystal-mush/mudrelay/pkg/roomstate"
)

// LogoutMessage is the GMCP message after which the room snapshot is reset.
const LogoutMessage = "char.logout"

// ReasonReconfigured is the disconnect reason used when a config change
// needs a fresh connection.
const ReasonReconfigured = "reconfigured"

// Options are optional collaborators. The zero value is usable.
type Options struct {
	Bus     *events.Bus
	Metrics *conn.Metrics
}

// Relay is a single game session.
type Relay struct {
	bus     *events.Bus
	metrics *conn.Metrics
	room    *roomstate.Aggregator

	mu     sync.RWMutex // guards cfg and client
	cfg    *config.Config
	client *conn.Client

	// connMu serializes connecting against Run's reconnect decisions.
	connMu  sync.Mutex
	session atomic.Pointer[string]
	since   atomic.Int64
	limiter *rate.Limiter
	drops   chan struct{}
}

// Status is a point-in-time view of the session.
type Status struct {
	Connected bool
	Session   string
	Addr      string
	Since     time.Time
	Stats     conn.Stats
}

// New builds a relay for cfg. It does not connect.
func New(cfg *config.Config, opts Options) (*Relay, error) {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	r := &Relay{
		bus:     opts.Bus,
		metrics: opts.Metrics,
		room:    roomstate.New(),
		cfg:     cfg,
		limiter: rate.NewLimiter(every(cfg.Reconnect.Delay()), 1),
		drops:   make(chan struct{}, 1),
	}
	client, err := r.newClient(cfg)
	if err != nil {
		return nil, err
	}
	r.client = client
	empty := ""
	r.session.Store(&empty)
	return r, nil
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// newClient builds a connection client for cfg with the relay's listeners.
func (r *Relay) newClient(cfg *config.Config) (*conn.Client, error) {
	enc, err := conn.LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	c := conn.NewClient(conn.Options{
		Encoding:     enc,
		TerminalType: cfg.TerminalType,
		Identity:     cfg.Identity(),
		Metrics:      r.metrics,
	})
	c.SetConnectListener(r.onConnect)
	c.SetLineListener(r.onLine)
	c.SetMessageListener(r.onMessage)
	c.SetDisconnectListener(r.onDisconnect)
	return c, nil
}

// Bus returns the relay's event bus.
func (r *Relay) Bus() *events.Bus { return r.bus }

// Config returns the active configuration.
func (r *Relay) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Relay) currentClient() *conn.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Session returns the id of the current or most recent session.
func (r *Relay) Session() string {
	return *r.session.Load()
}

// IsConnected reports whether the game connection is up.
func (r *Relay) IsConnected() bool {
	return r.currentClient().IsConnected()
}

// Status reports connection details for display.
func (r *Relay) Status() Status {
	c := r.currentClient()
	st := Status{
		Connected: c.IsConnected(),
		Session:   r.Session(),
		Addr:      c.RemoteAddr(),
		Stats:     c.Stats(),
	}
	if st.Connected {
		st.Since = time.Unix(0, r.since.Load())
	}
	return st
}

// Snapshot returns the current room snapshot.
func (r *Relay) Snapshot() *roomstate.Snapshot {
	return r.room.Snapshot()
}

// ClearRoom resets the room snapshot.
func (r *Relay) ClearRoom() {
	r.room.Clear()
	r.publishRoom()
}

// Connect dials the configured server if not already connected. Every
// successful connect starts a new session with an empty room snapshot.
func (r *Relay) Connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.connectLocked(ctx)
}

func (r *Relay) connectLocked(ctx context.Context) error {
	c := r.currentClient()
	if c.IsConnected() {
		return nil
	}
	cfg := r.Config()
	id := uuid.NewString()
	r.session.Store(&id)
	r.room.Clear()
	if err := c.Connect(ctx, cfg.Host, cfg.Port, cfg.ConnectTimeout()); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the game connection. Run treats it like any other drop.
func (r *Relay) Disconnect(reason string) {
	r.currentClient().Disconnect(reason)
}

// Reconnect drops the current connection and dials again.
func (r *Relay) Reconnect(ctx context.Context, reason string) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	r.currentClient().Disconnect(reason)
	return r.connectLocked(ctx)
}

// Send writes lines to the server and publishes them as one EvSent event.
func (r *Relay) Send(lines ...string) error {
	if err := r.currentClient().SendLines(lines...); err != nil {
		return err
	}
	r.emit(events.Event{Type: events.EvSent, Text: strings.Join(lines, "\n")})
	return nil
}

// Reconfigure applies cfg. A change to anything the connection was built
// from replaces the client and, if the session was up, reconnects.
func (r *Relay) Reconfigure(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	r.connMu.Lock()
	defer r.connMu.Unlock()

	r.mu.Lock()
	old, oldClient := r.cfg, r.client
	r.cfg = cfg
	r.mu.Unlock()
	r.limiter.SetLimit(every(cfg.Reconnect.Delay()))

	if !needsNewClient(old, cfg) {
		return nil
	}
	client, err := r.newClient(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	if !oldClient.IsConnected() {
		return nil
	}
	log.Info().Str("module", "relay").Str("endpoint", cfg.Endpoint()).Msg("connection settings changed, reconnecting")
	oldClient.Disconnect(ReasonReconfigured)
	return r.connectLocked(ctx)
}

func needsNewClient(a, b *config.Config) bool {
	if a.Host != b.Host || a.Port != b.Port || a.TerminalType != b.TerminalType {
		return true
	}
	if !strings.EqualFold(a.Encoding, b.Encoding) {
		return true
	}
	ia, ib := a.Identity(), b.Identity()
	if ia.ClientName != ib.ClientName || ia.ClientVersion != ib.ClientVersion || len(ia.Supports) != len(ib.Supports) {
		return true
	}
	for i := range ia.Supports {
		if ia.Supports[i] != ib.Supports[i] {
			return true
		}
	}
	return false
}

// Run connects and keeps the session up until ctx is done. After a drop it
// reconnects if the config allows, at most once per reconnect delay, giving
// up after max_attempts consecutive failures. Run returns nil when ctx is
// cancelled or when the connection ends with reconnect disabled.
func (r *Relay) Run(ctx context.Context) error {
	failures := 0
	for {
		if !r.connected() {
			if err := r.limiter.Wait(ctx); err != nil {
				r.Disconnect(conn.ReasonShutdown)
				return nil
			}
			if err := r.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				cfg := r.Config()
				log.Warn().Str("module", "relay").Err(err).Int("attempt", failures).Msg("connect failed")
				if !cfg.Reconnect.Enabled {
					return err
				}
				if cfg.Reconnect.MaxAttempts > 0 && failures >= cfg.Reconnect.MaxAttempts {
					return fmt.Errorf("giving up after %d attempts: %w", failures, err)
				}
				continue
			}
			failures = 0
		}

		select {
		case <-ctx.Done():
			r.Disconnect(conn.ReasonShutdown)
			return nil
		case <-r.drops:
			if r.connected() {
				continue
			}
			if !r.Config().Reconnect.Enabled {
				return nil
			}
		}
	}
}

// connected waits out any connect in progress before answering.
func (r *Relay) connected() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.currentClient().IsConnected()
}

func (r *Relay) emit(ev events.Event) {
	ev.Session = r.Session()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.bus.Emit(ev)
}

func (r *Relay) onConnect(addr string) {
	r.since.Store(time.Now().UnixNano())
	log.Info().Str("module", "relay").Str("session", r.Session()).Str("addr", addr).Msg("session started")
	r.emit(events.Event{Type: events.EvConnect, Text: addr})
}

func (r *Relay) onLine(line string) {
	r.emit(events.Event{Type: events.EvLine, Text: line})
}

func (r *Relay) onDisconnect(reason string) {
	r.emit(events.Event{Type: events.EvDisconnect, Reason: reason})
	r.bus.Cleanup()
	select {
	case r.drops <- struct{}{}:
	default:
	}
}

func (r *Relay) onMessage(name string, data []byte) {
	r.emit(events.Event{Type: events.EvGMCP, Name: name, Data: events.JSONData(data)})

	switch strings.ToLower(strings.TrimSpace(name)) {
	case LogoutMessage:
		r.ClearRoom()
	case roomstate.RoomMessage:
		r.room.Update(name, data)
		r.publishRoom()
	default:
		r.room.Update(name, data)
	}
}

// publishRoom emits the current snapshot as an EvRoom event.
func (r *Relay) publishRoom() {
	snap := r.room.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Str("module", "relay").Err(err).Msg("encoding room snapshot")
		return
	}
	id, _ := snap.RoomID()
	r.emit(events.Event{Type: events.EvRoom, Name: id, Data: data})
}
