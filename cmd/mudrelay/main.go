package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crystal-mush/mudrelay/pkg/config"
)

// Version is the mudrelay version string.
// Override at build time with: go build -ldflags "-X main.Version=0.3.0"
var Version = "0.1.0"

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "mudrelay",
		Short: "Telnet MUD client core with GMCP room tracking",
		Long: `mudrelay keeps a Telnet session to a MUD open, decodes GMCP
out-of-band data into a live room snapshot, and optionally relays the
session to chat bots and browsers over HTTP and WebSocket.

Environment variables (used as defaults when flags are not set):
  MUDRELAY_CONFIG     Path to the YAML config file
  MUDRELAY_LOG_LEVEL  Override logging.level
  MUDRELAY_HOST       Override the game host
  MUDRELAY_PORT       Override the game port`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", envDefault("MUDRELAY_CONFIG", "mudrelay.yaml"), "Path to config file (env: MUDRELAY_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", envDefault("MUDRELAY_LOG_LEVEL", ""), "Log level: debug, info, warn, error (env: MUDRELAY_LOG_LEVEL)")

	cmd.AddCommand(
		runCmd(g),
		consoleCmd(g),
		transcriptCmd(g),
		tokenCmd(g),
		versionCmd(),
	)
	return cmd
}

// loadConfig reads the config file, applies environment overrides and sets
// up logging. A missing file falls back to defaults so host and port can come
// from the environment alone.
func (g *globalFlags) loadConfig(logOut io.Writer) (*config.Config, error) {
	missing := false
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg, missing = config.Default(), true
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	setupLogging(logOut, cfg.Logging, g.logLevel)
	if missing {
		log.Warn().Str("path", g.configPath).Msg("config file not found, using defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", g.configPath, err)
	}
	return cfg, nil
}

// setupLogging points the global logger at out: human-readable on a
// terminal, JSON otherwise or when the config asks for it.
func setupLogging(out io.Writer, lc config.Logging, override string) {
	level := lc.Level
	if override != "" {
		level = override
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if !lc.JSON && isTerminal(out) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mudrelay %s\n", Version)
		},
	}
}
