// Command fastws runs a fastws server.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP and WebSocket server, with optional
//     /metrics, admin REST and /mcp endpoints
//  2. "mcp" – runs an MCP stdio server that drives the admin API of a running
//     fastws server
//
// Configuration comes from an optional YAML file (--config), overridden by
// flags and environment variables. A .env file in the working directory is
// loaded first. SIGHUP reloads the server; SIGINT and SIGTERM shut it down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/fastws/admin"
	"github.com/wricardo/fastws/api"
	"github.com/wricardo/fastws/config"
	"github.com/wricardo/fastws/metrics"
	"github.com/wricardo/fastws/server"
	"github.com/wricardo/fastws/transport/mcp"
	"github.com/wricardo/fastws/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "fastws"
)

// main loads .env, then runs the command line.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "WebSocket and HTTP server with event routing and topic broadcast",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				Sources: cli.EnvVars("FASTWS_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Log lifecycle and WebSocket events",
				Sources: cli.EnvVars("FASTWS_VERBOSE"),
			},
			&cli.StringFlag{
				Name:    "static",
				Usage:   "Directory to serve static files from",
				Sources: cli.EnvVars("FASTWS_STATIC"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "Enable ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "Ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "Custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the server (default)",
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "Run an MCP stdio server against a running fastws admin API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Value:   "http://localhost:8080/admin",
						Usage:   "Admin API base URL",
						Sources: cli.EnvVars("FASTWS_ADMIN_URL"),
					},
				},
				Action: runStdioMCP,
			},
		},
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadWithDefaults(path); err != nil {
			return nil, err
		}
	}

	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("verbose") {
		cfg.Server.Verbose = cmd.Bool("verbose")
	}
	if cmd.IsSet("static") {
		cfg.Static.Root = cmd.String("static")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// buildServer creates the server and registers every route cfg asks for.
func buildServer(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	opts, err := cfg.ServerOptions(logger, collector)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(opts)
	if err != nil {
		return nil, err
	}

	srv.Get("/health", func(req *api.Request, res *api.Response) error {
		return res.JSON(http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"version":  Version,
			"state":    srv.State().String(),
			"sessions": srv.Sessions().Count(),
		})
	})

	// Static files
	if cfg.Static.Root != "" {
		if cfg.Static.Index != "" {
			srv.Serve("/", cfg.Static.Index)
		}
		for _, file := range cfg.Static.Files {
			srv.Serve(file, "")
		}
	}

	ws := cfg.Server.WebSocket
	if err := srv.WS(ws.Path, chatHandler(srv, ws.DefaultTopic), ws.Options()); err != nil {
		return nil, err
	}

	if collector != nil {
		if err := srv.Handle("get", cfg.Metrics.Path, collector.Handler()); err != nil {
			return nil, err
		}
	}

	if cfg.AdminEnabled() {
		admin.New(admin.NewService(srv, Version)).Register(srv, cfg.Admin.Path)
	}

	if cfg.MCP.Enabled {
		scheme := "http"
		if cfg.TLS.Enabled() {
			scheme = "https"
		}
		baseURL := fmt.Sprintf("%s://127.0.0.1:%d%s", scheme, cfg.Server.Port, cfg.Admin.Path)
		client := mcp.NewClient(baseURL, Version)
		if err := srv.Handle("post", cfg.MCP.Path, client.Handler()); err != nil {
			return nil, err
		}
	}

	return srv, nil
}

// chatHandler subscribes every session to topic and wires the demo events:
//   - "echo" replies to the sender with the same payload
//   - "msg" is broadcast to topic as a "msg" event
//   - "join" and "leave" {"room": "..."} manage extra subscriptions
//   - "say" {"room": "...", "data": ...} publishes to another room
//   - plain messages and binary frames are rebroadcast to topic
func chatHandler(srv *server.Server, topic string) server.WSHandler {
	type roomRequest struct {
		Room string          `json:"room"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	return func(s *websocket.Session) error {
		s.Subscribe(topic)

		s.On("echo", func(e *websocket.Event) error {
			return s.SendEvent("echo", json.RawMessage(e.Data))
		})

		s.On("msg", func(e *websocket.Event) error {
			_, err := srv.Broadcast(topic, "msg", json.RawMessage(e.Data), true)
			return err
		})

		s.On("join", func(e *websocket.Event) error {
			var req roomRequest
			if err := e.Decode(&req); err != nil {
				return err
			}
			if req.Room == "" {
				return errors.New("room is required")
			}
			s.Subscribe(req.Room)
			return s.SendEvent("joined", map[string]string{"room": req.Room})
		})

		s.On("leave", func(e *websocket.Event) error {
			var req roomRequest
			if err := e.Decode(&req); err != nil {
				return err
			}
			s.Unsubscribe(req.Room)
			return nil
		})

		s.On("say", func(e *websocket.Event) error {
			var req roomRequest
			if err := e.Decode(&req); err != nil {
				return err
			}
			if !s.IsSubscribed(req.Room) {
				return s.SendEvent("error", map[string]string{"error": "not in room " + req.Room})
			}
			_, err := s.Publish(req.Room, "say", req.Data)
			return err
		})

		s.On(websocket.EventMessage, func(e *websocket.Event) error {
			_, err := srv.BroadcastMessage(topic, json.RawMessage(e.Data), true)
			return err
		})

		s.On(websocket.EventBinary, func(e *websocket.Event) error {
			srv.BroadcastBinary(topic, e.Data, false)
			return nil
		})

		return nil
	}
}

// runServe starts the server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	logger.Info("starting", "app", AppName, "version", Version, "port", cfg.Server.Port)

	err = srv.ListenWithCallback(cfg.Server.Port, func() {
		logger.Info("server listening", "addr", srv.Addr(), "websocket", cfg.Server.WebSocket.Path)
		if cfg.Metrics.Enabled {
			logger.Info("metrics endpoint", "path", cfg.Metrics.Path)
		}
		if cfg.MCP.Enabled {
			logger.Info("MCP endpoint", "path", cfg.MCP.Path, "admin", cfg.Admin.Path)
		}
	})
	if err != nil {
		return err
	}
	if srv.State() != server.StateListening {
		return fmt.Errorf("failed to listen on port %d", cfg.Server.Port)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if cfg.Server.SessionIdle > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idleSessionRoutine(ctx, srv, cfg.Server.SessionIdle, logger)
		}()
	}

	if cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg.Ngrok, srv.Handler(), logger)
		}()
	}

	// Handle signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			logger.Info("received signal, reloading", "signal", sig.String())
			if err := srv.Reload(); err != nil {
				logger.Error("reload failed", "error", err)
			}
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig.String())
		break
	}

	cancel()
	srv.Shutdown()
	wg.Wait()
	logger.Info("server stopped")
	return nil
}

// idleSessionRoutine periodically closes sessions whose client has been
// silent for longer than maxIdle.
func idleSessionRoutine(ctx context.Context, srv *server.Server, maxIdle time.Duration, logger *slog.Logger) {
	interval := maxIdle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := srv.Sessions().CloseIdle(maxIdle); closed > 0 {
				logger.Info("closed idle sessions", "count", closed)
			}
		}
	}
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler, logger *slog.Logger) {
	logger.Info("starting ngrok tunnel")

	// Configure ngrok endpoint
	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		logger.Info("using custom ngrok domain", "domain", cfg.Domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", "error", err)
		return
	}

	// Close the tunnel on shutdown so Serve returns
	stop := context.AfterFunc(ctx, func() {
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", "error", err)
		}
	})
	defer stop()

	logger.Info("ngrok tunnel established", "url", tun.URL())

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		logger.Error("ngrok server error", "error", err)
	}
	logger.Info("ngrok tunnel closed")
}

// runStdioMCP serves the admin tools over stdio.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	client := mcp.NewClient(cmd.String("url"), Version)

	// Stdout carries the protocol, so logs go to stderr
	log.SetOutput(os.Stderr)
	log.Printf("MCP stdio server ready (admin API at %s)", cmd.String("url"))

	if err := mcpserver.ServeStdio(client.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
