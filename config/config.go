package config

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/wricardo/fastws/envelope"
	"github.com/wricardo/fastws/metrics"
	"github.com/wricardo/fastws/route"
	"github.com/wricardo/fastws/server"
)

// Config is the root configuration of a fastws process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	TLS     TLSConfig     `yaml:"tls"`
	Static  StaticConfig  `yaml:"static"`
	Metrics MetricsConfig `yaml:"metrics"`
	Admin   AdminConfig   `yaml:"admin"`
	MCP     MCPConfig     `yaml:"mcp"`
	Ngrok   NgrokConfig   `yaml:"ngrok"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	Verbose         bool            `yaml:"verbose"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	SessionIdle     time.Duration   `yaml:"session_idle"` // Close sessions silent for this long; 0 disables
	WebSocket       WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig configures the WebSocket route.
type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	Compression      string        `yaml:"compression"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	MaxPayloadLength int           `yaml:"max_payload_length"`
	DefaultTopic     string        `yaml:"default_topic"`
}

// TLSConfig points at a PEM certificate and key. Both empty disables TLS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StaticConfig configures static file serving.
type StaticConfig struct {
	Root  string   `yaml:"root"`
	Cache int      `yaml:"cache"`
	Index string   `yaml:"index"` // File served at "/"
	Files []string `yaml:"files"` // Paths served as-is under root
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminConfig configures the admin REST routes.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig configures the MCP endpoint. It drives the admin routes, which
// are registered whenever MCP is enabled.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NgrokConfig configures the optional public tunnel.
type NgrokConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Enabled reports whether TLS is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Load reads the certificate pair. It returns nil when TLS is disabled.
func (c TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// AdminEnabled reports whether the admin routes are served.
func (c *Config) AdminEnabled() bool {
	return c.Admin.Enabled || c.MCP.Enabled
}

// Options converts the WebSocket settings into route options.
func (c WebSocketConfig) Options() route.WSOptions {
	return route.WSOptions{
		Compression:      c.Compression,
		IdleTimeout:      c.IdleTimeout,
		MaxPayloadLength: c.MaxPayloadLength,
	}
}

func (c LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Level, err)
	}
	return level, nil
}

// NewLogger builds a logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ServerOptions builds server options. collector may be nil.
func (c *Config) ServerOptions(logger *slog.Logger, collector *metrics.Collector) (server.Options, error) {
	tlsConfig, err := c.TLS.Load()
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		TLS:             tlsConfig,
		Verbose:         c.Server.Verbose,
		Cache:           c.Static.Cache,
		StaticRoot:      c.Static.Root,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		Logger:          logger,
		Metrics:         collector,
		Codec:           envelope.Default,
	}, nil
}
