// Package config loads the relay's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mudrelay/pkg/conn"
	"github.com/crystal-mush/mudrelay/pkg/telnet"
)

// Config holds everything needed to run a relay session.
type Config struct {
	// --- Game server ---
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Encoding         string `yaml:"encoding"`           // IANA charset name
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"` // Dial timeout (default 10000)
	TerminalType     string `yaml:"terminal_type"`      // Announced on TTYPE SEND (default ANSI)

	Reconnect  Reconnect  `yaml:"reconnect"`
	GMCP       GMCP       `yaml:"gmcp"`
	Transcript Transcript `yaml:"transcript"`
	Bridge     Bridge     `yaml:"bridge"`
	Logging    Logging    `yaml:"logging"`
}

// Reconnect controls automatic reconnection after a dropped connection.
type Reconnect struct {
	Enabled     bool `yaml:"enabled"`
	DelayMS     int  `yaml:"delay_ms"`     // Minimum gap between attempts
	MaxAttempts int  `yaml:"max_attempts"` // Consecutive failures before giving up, 0 = unlimited
}

// GMCP is the identity sent in the GMCP handshake.
type GMCP struct {
	ClientName    string   `yaml:"client_name"`
	ClientVersion string   `yaml:"client_version"`
	Supports      []string `yaml:"supports"`
}

// Transcript selects where session text is persisted.
type Transcript struct {
	Backend        string `yaml:"backend"`         // none, bolt or sqlite
	Path           string `yaml:"path"`            // Relative to the config file
	RetentionHours int    `yaml:"retention_hours"` // 0 = keep forever
}

// Bridge configures the HTTP/WebSocket relay.
type Bridge struct {
	Enabled         bool     `yaml:"enabled"`
	Listen          string   `yaml:"listen"`
	Secret          string   `yaml:"secret"` // HS256 token secret; empty disables auth
	CORSOrigins     []string `yaml:"cors_origins"`
	TokenTTLMinutes int      `yaml:"token_ttl_minutes"`
}

// Logging configures the global logger.
type Logging struct {
	Level string `yaml:"level"` // debug, info, warn or error
	JSON  bool   `yaml:"json"`
}

// Transcript backends.
const (
	BackendNone   = "none"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Default returns a Config with every optional field filled in. Host and
// Port still need to come from the file or the environment.
func Default() *Config {
	id := telnet.DefaultIdentity()
	return &Config{
		Port:             4000,
		Encoding:         "UTF-8",
		ConnectTimeoutMS: 10000,
		TerminalType:     "ANSI",
		Reconnect: Reconnect{
			Enabled: true,
			DelayMS: 5000,
		},
		GMCP: GMCP{
			ClientName:    id.ClientName,
			ClientVersion: id.ClientVersion,
			Supports:      id.Supports,
		},
		Transcript: Transcript{
			Backend:        BackendNone,
			Path:           "transcript.db",
			RetentionHours: 24 * 7,
		},
		Bridge: Bridge{
			Listen:          "127.0.0.1:8765",
			TokenTTLMinutes: 24 * 60,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads a YAML config file on top of Default. Relative transcript paths
// are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	if cfg.Transcript.Path != "" && !filepath.IsAbs(cfg.Transcript.Path) {
		cfg.Transcript.Path = filepath.Join(filepath.Dir(path), cfg.Transcript.Path)
	}
	return cfg, nil
}

// Parse decodes YAML data on top of Default without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides host and port from MUDRELAY_HOST and MUDRELAY_PORT.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("MUDRELAY_HOST"); v != "" {
		c.Host = v
	}
	if v := getenv("MUDRELAY_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MUDRELAY_PORT: %w", err)
		}
		c.Port = p
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := conn.LookupEncoding(c.Encoding); err != nil {
		errs = append(errs, err)
	}
	if c.ConnectTimeoutMS <= 0 {
		errs = append(errs, errors.New("connect_timeout_ms must be positive"))
	}
	if c.Reconnect.DelayMS < 0 {
		errs = append(errs, errors.New("reconnect.delay_ms must not be negative"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	switch c.Transcript.Backend {
	case BackendNone, "":
	case BackendBolt, BackendSQLite:
		if c.Transcript.Path == "" {
			errs = append(errs, errors.New("transcript.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transcript backend %q", c.Transcript.Backend))
	}
	if c.Bridge.Enabled {
		if _, _, err := net.SplitHostPort(c.Bridge.Listen); err != nil {
			errs = append(errs, fmt.Errorf("bridge.listen: %w", err))
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// ConnectTimeout returns the dial timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// Endpoint returns host:port.
func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Identity returns the GMCP identity, falling back to the built-in one.
func (c *Config) Identity() telnet.Identity {
	if c.GMCP.ClientName == "" {
		return telnet.DefaultIdentity()
	}
	return telnet.Identity{
		ClientName:    c.GMCP.ClientName,
		ClientVersion: c.GMCP.ClientVersion,
		Supports:      c.GMCP.Supports,
	}
}

// Delay returns the minimum gap between reconnect attempts.
func (r Reconnect) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Retention returns how long transcript entries are kept; zero means forever.
func (t Transcript) Retention() time.Duration {
	return time.Duration(t.RetentionHours) * time.Hour
}

// TokenTTL returns the lifetime of issued bridge tokens.
func (b Bridge) TokenTTL() time.Duration {
	return time.Duration(b.TokenTTLMinutes) * time.Minute
}
