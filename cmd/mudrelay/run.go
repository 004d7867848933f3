package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay headless",
		Long: `Connect to the configured game and keep the session up, writing the
transcript and serving the bridge if they are enabled. Stops on SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(g, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(ctx)

			log.Info().Str("version", Version).Str("endpoint", cfg.Endpoint()).Msg("mudrelay starting")
			err = a.relay.Run(ctx)
			log.Info().Str("session", a.relay.Session()).Msg("mudrelay stopped")
			return err
		},
	}
}
