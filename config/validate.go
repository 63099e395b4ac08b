package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wricardo/fastws/engine"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must be >= 0")
	}
	if c.Server.SessionIdle < 0 {
		return errors.New("server.session_idle must be >= 0")
	}

	ws := c.Server.WebSocket
	if !strings.HasPrefix(ws.Path, "/") {
		return fmt.Errorf("server.websocket.path must start with /, got %q", ws.Path)
	}
	if _, err := ws.Options().Apply(engine.WSBehavior{}); err != nil {
		return fmt.Errorf("server.websocket: %w", err)
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}

	if c.Static.Cache < 1 {
		return errors.New("static.cache must be >= 1")
	}
	if (c.Static.Index != "" || len(c.Static.Files) > 0) && c.Static.Root == "" {
		return errors.New("static.root is required when static files are configured")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		return fmt.Errorf("mcp.path must start with /, got %q", c.MCP.Path)
	}
	if c.AdminEnabled() && !strings.HasPrefix(c.Admin.Path, "/") {
		return fmt.Errorf("admin.path must start with /, got %q", c.Admin.Path)
	}
	if c.Metrics.Enabled && c.MCP.Enabled && c.Metrics.Path == c.MCP.Path {
		return errors.New("metrics.path and mcp.path must differ")
	}

	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return errors.New("ngrok.authtoken is required when ngrok is enabled")
	}

	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
