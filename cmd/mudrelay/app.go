package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/crystal-mush/mudrelay/pkg/bridge"
	"github.com/crystal-mush/mudrelay/pkg/config"
	"github.com/crystal-mush/mudrelay/pkg/conn"
	"github.com/crystal-mush/mudrelay/pkg/relay"
	"github.com/crystal-mush/mudrelay/pkg/transcript"
)

const transcriptBuffer = 1024

// app is a running relay with its transcript and optional bridge attached.
type app struct {
	cfgPath  string
	logLevel string // --log-level override, reapplied on reload
	relay    *relay.Relay
	registry *prometheus.Registry
	store    transcript.Store
	writer   *transcript.Writer
}

func newApp(g *globalFlags, cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := relay.New(cfg, relay.Options{Metrics: conn.NewMetrics(reg)})
	if err != nil {
		return nil, err
	}
	a := &app{cfgPath: g.configPath, logLevel: g.logLevel, relay: r, registry: reg}

	store, err := transcript.Open(cfg.Transcript.Backend, cfg.Transcript.Path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	if store != nil {
		a.store = store
		a.writer = transcript.NewWriter(store, transcriptBuffer)
		r.Bus().Subscribe(a.writer)
		log.Info().Str("backend", cfg.Transcript.Backend).Str("path", cfg.Transcript.Path).Msg("transcript enabled")
	}
	return a, nil
}

// start launches the background pieces: retention cleanup, config
// watching and the bridge. Bridge failures are logged, not fatal.
func (a *app) start(ctx context.Context) {
	cfg := a.relay.Config()
	transcript.StartRetentionCleanup(ctx, a.store, cfg.Transcript.Retention(), time.Hour)

	if err := config.Watch(ctx, a.cfgPath, func(next *config.Config) { a.reload(ctx, next) }); err != nil {
		log.Warn().Err(err).Msg("config hot reload disabled")
	}

	if cfg.Bridge.Enabled {
		srv := bridge.New(a.relay, a.relay.Bus(), bridge.Config{
			Listen:      cfg.Bridge.Listen,
			CORSOrigins: cfg.Bridge.CORSOrigins,
			Auth:        bridge.NewAuth(cfg.Bridge.Secret, cfg.Bridge.TokenTTL()),
			Gatherer:    a.registry,
			Registerer:  a.registry,
		})
		if cfg.Bridge.Secret == "" {
			log.Warn().Str("listen", cfg.Bridge.Listen).Msg("bridge running without authentication")
		}
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error().Err(err).Msg("bridge stopped")
			}
		}()
	}
}

// reload applies a config read back from disk. Environment and flag
// overrides win over the file, as they did at startup.
func (a *app) reload(ctx context.Context, next *config.Config) {
	if err := next.ApplyEnv(os.Getenv); err != nil {
		log.Warn().Err(err).Msg("ignoring reloaded config")
		return
	}
	setupLogging(os.Stderr, next.Logging, a.logLevel)
	if err := a.relay.Reconfigure(ctx, next); err != nil {
		log.Warn().Err(err).Msg("applying reloaded config")
	}
}

// close flushes the transcript. The relay must already be stopped.
func (a *app) close() {
	if a.writer != nil {
		a.writer.Close()
		if n := a.writer.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("transcript entries dropped")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("closing transcript")
		}
	}
}
