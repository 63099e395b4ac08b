package config

import (
	"time"

	"github.com/wricardo/fastws/server"
	"github.com/wricardo/fastws/static"
)

// Default values for optional configuration fields.
const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = server.DefaultShutdownTimeout
	DefaultWSPath          = "/ws"
	DefaultWSIdleTimeout   = 120 * time.Second
	DefaultWSTopic         = "broadcast"
	DefaultStaticCache     = static.DefaultCapacity
	DefaultMetricsPath     = "/metrics"
	DefaultAdminPath       = "/admin"
	DefaultMCPPath         = "/mcp"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// WebSocket defaults
	if c.Server.WebSocket.Path == "" {
		c.Server.WebSocket.Path = DefaultWSPath
	}
	if c.Server.WebSocket.IdleTimeout == 0 {
		c.Server.WebSocket.IdleTimeout = DefaultWSIdleTimeout
	}
	if c.Server.WebSocket.DefaultTopic == "" {
		c.Server.WebSocket.DefaultTopic = DefaultWSTopic
	}

	// Static defaults
	if c.Static.Cache == 0 {
		c.Static.Cache = DefaultStaticCache
	}

	// Admin endpoints
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Admin.Path == "" {
		c.Admin.Path = DefaultAdminPath
	}
	if c.MCP.Path == "" {
		c.MCP.Path = DefaultMCPPath
	}

	// Logging
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
