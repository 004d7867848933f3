// Package bridge exposes a relay session over HTTP and WebSocket so chat
// bots and browser clients can follow the game and send commands.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crystal-mush/mudrelay/pkg/conn"
	"github.com/crystal-mush/mudrelay/pkg/events"
	"github.com/crystal-mush/mudrelay/pkg/roomstate"
)

// Session is the part of a relay the bridge drives.
type Session interface {
	Send(lines ...string) error
	Snapshot() *roomstate.Snapshot
	IsConnected() bool
}

// Config holds configuration for the bridge server.
type Config struct {
	Listen      string
	CORSOrigins []string
	Auth        *Auth // nil disables authentication
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Registerer receives the bridge's own collectors; nil skips them.
	Registerer prometheus.Registerer
	// SendBuffer is the per-client queue of outbound frames. Defaults to 256.
	SendBuffer int
}

// Server relays session events to WebSocket clients and accepts commands.
type Server struct {
	session  Session
	bus      *events.Bus
	cfg      Config
	upgrader websocket.Upgrader
	router   chi.Router

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	clientsGauge prometheus.Gauge
	dropped      prometheus.Counter
}

// New creates a bridge for session, subscribing clients to bus.
func New(session Session, bus *events.Bus, cfg Config) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		session: session,
		bus:     bus,
		cfg:     cfg,
		clients: make(map[*wsClient]struct{}),
		clientsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudrelay_bridge_clients",
			Help: "Connected WebSocket clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_bridge_slow_clients_total",
			Help: "WebSocket clients dropped for falling behind.",
		}),
	}
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(s.clientsGauge, s.dropped)
	}

	originSet := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		originSet[strings.ToLower(o)] = true
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(originSet, origin)
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if s.cfg.Auth != nil {
			r.Use(authMiddleware(s.cfg.Auth))
		}
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
		r.Get("/room", s.handleRoom)
		r.Post("/api/v1/send", s.handleSend)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully and disconnects every WebSocket client.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	log.Info().Str("module", "bridge").Str("addr", ln.Addr().String()).Msg("listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.clientsGauge.Inc()
	s.bus.Subscribe(c)
}

func (s *Server) removeClient(c *wsClient) {
	s.bus.Unsubscribe(c)
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		s.clientsGauge.Dec()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.session.IsConnected(),
		"clients":   s.ClientCount(),
	})
}

// roomResponse is the body of GET /room.
type roomResponse struct {
	Connected bool                `json:"connected"`
	Snapshot  *roomstate.Snapshot `json:"snapshot"`
	Text      string              `json:"text"`
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	writeJSON(w, http.StatusOK, roomResponse{
		Connected: s.session.IsConnected(),
		Snapshot:  snap,
		Text:      roomstate.Format(snap),
	})
}

// sendRequest is the body of POST /api/v1/send.
type sendRequest struct {
	Lines []string `json:"lines"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "no lines to send")
		return
	}
	if err := s.session.Send(req.Lines...); err != nil {
		if errors.Is(err, conn.ErrNotConnected) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Str("module", "bridge").Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
