package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wricardo/fastws/api"
	"github.com/wricardo/fastws/engine"
	"github.com/wricardo/fastws/envelope"
	"github.com/wricardo/fastws/metrics"
	"github.com/wricardo/fastws/route"
	"github.com/wricardo/fastws/static"
	"github.com/wricardo/fastws/transport/websocket"
)

// DefaultShutdownTimeout bounds how long a graceful stop waits for in-flight
// HTTP requests.
const DefaultShutdownTimeout = 5 * time.Second

var (
	ErrInvalidNoPort = errors.New("invalid, must specify port")
)

// State is the listen state of a Server.
type State int

const (
	StateUnbound State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure a Server. They cannot be changed after New.
type Options struct {
	// TLS makes every listen socket serve TLS.
	TLS *tls.Config
	// Verbose enables lifecycle logging.
	Verbose bool
	// Cache is the number of static files kept in memory (default 50).
	Cache int
	// StaticRoot is the directory Serve resolves files under (default: the
	// working directory).
	StaticRoot      string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Collector
	Codec           *envelope.Codec
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Server owns the route table, the static cache and the listen lifecycle.
type Server struct {
	opts     Options
	logger   *slog.Logger
	codec    *envelope.Codec
	routes   *route.Table
	cache    *static.Cache
	hub      *engine.Hub
	sessions *websocket.Registry

	// conns maps engine connections to their sessions.
	conns sync.Map

	// lifecycle serializes Listen, GracefulStop and Reload.
	lifecycle sync.Mutex
	// drains tracks closed listen sockets still finishing in-flight requests.
	drains sync.WaitGroup

	mu     sync.RWMutex
	app    *engine.App
	socket *engine.ListenSocket
	port   int
	state  State
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Codec == nil {
		opts.Codec = envelope.Default
	}
	if opts.Cache <= 0 {
		opts.Cache = static.DefaultCapacity
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	cache, err := static.New(opts.StaticRoot, opts.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create static cache: %w", err)
	}

	return &Server{
		opts:     opts,
		logger:   opts.Logger,
		codec:    opts.Codec,
		routes:   route.NewTable(),
		cache:    cache,
		hub:      engine.NewHub(opts.Logger),
		sessions: websocket.NewRegistry(),
	}, nil
}

func (s *Server) verbose(msg string, args ...any) {
	if s.opts.Verbose {
		s.logger.Info(msg, args...)
	}
}

// Get registers h for GET requests to path. A later registration for the
// same path and method replaces h.
func (s *Server) Get(path string, h api.HandlerFunc)     { s.routes.Handle(route.Get, path, h) }
func (s *Server) Post(path string, h api.HandlerFunc)    { s.routes.Handle(route.Post, path, h) }
func (s *Server) Patch(path string, h api.HandlerFunc)   { s.routes.Handle(route.Patch, path, h) }
func (s *Server) Put(path string, h api.HandlerFunc)     { s.routes.Handle(route.Put, path, h) }
func (s *Server) Del(path string, h api.HandlerFunc)     { s.routes.Handle(route.Delete, path, h) }
func (s *Server) Delete(path string, h api.HandlerFunc)  { s.routes.Handle(route.Delete, path, h) }
func (s *Server) Head(path string, h api.HandlerFunc)    { s.routes.Handle(route.Head, path, h) }
func (s *Server) Trace(path string, h api.HandlerFunc)   { s.routes.Handle(route.Trace, path, h) }
func (s *Server) Connect(path string, h api.HandlerFunc) { s.routes.Handle(route.Connect, path, h) }
func (s *Server) Options(path string, h api.HandlerFunc) { s.routes.Handle(route.Options, path, h) }

// Any registers h for every method. Method-specific routes on the same path
// take precedence.
func (s *Server) Any(path string, h api.HandlerFunc) { s.routes.Handle(route.Any, path, h) }

// Route registers h under a method name such as "get" or "del".
func (s *Server) Route(method, path string, h api.HandlerFunc) error {
	m, err := route.ParseMethod(method)
	if err != nil {
		return err
	}
	return s.routes.Handle(m, path, h)
}

// Handle registers a plain http.Handler.
func (s *Server) Handle(method, path string, h http.Handler) error {
	return s.Route(method, path, api.FromHTTP(h))
}

// Serve registers a GET route answering with a static file: target when
// given, otherwise the request path. Files resolve under Options.StaticRoot.
func (s *Server) Serve(path, target string) {
	s.Get(path, func(req *api.Request, res *api.Response) error {
		name := target
		if name == "" {
			name = req.Path
		}
		return res.StaticFile(name, s.cache)
	})
}

// Routes lists the registered routes in registration order.
func (s *Server) Routes() []RouteInfo {
	entries := s.routes.Entries()
	infos := make([]RouteInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, RouteInfo{Method: string(e.Method), Path: e.Path})
	}
	return infos
}

// Sessions returns the live WebSocket sessions.
func (s *Server) Sessions() *websocket.Registry {
	return s.sessions
}

// Cache returns the static file cache.
func (s *Server) Cache() *static.Cache {
	return s.cache
}

func (s *Server) wrap(e *route.Entry) http.HandlerFunc {
	opts := []api.WrapOption{
		api.WithLogger(s.logger),
		api.WithRoute(e.Path),
	}
	if s.opts.Metrics != nil {
		opts = append(opts, api.WithRecorder(s.opts.Metrics))
	}
	return api.Wrap(e.HTTP, opts...)
}

// Listen binds the route table to a fresh engine app and listens on port.
// A zero port reuses the previous one; ErrInvalidNoPort is returned when
// there is none. A failure to bind is logged and leaves the server not
// listening.
func (s *Server) Listen(port int) error {
	return s.ListenWithCallback(port, nil)
}

// ListenWithCallback is Listen, calling fn once the socket is bound.
func (s *Server) ListenWithCallback(port int, fn func()) error {
	s.lifecycle.Lock()
	listening, err := s.listen(port)
	s.lifecycle.Unlock()

	if err != nil {
		return err
	}
	if listening && fn != nil {
		fn()
	}
	return nil
}

// listen must be called with s.lifecycle held.
func (s *Server) listen(port int) (bool, error) {
	s.mu.Lock()
	if port == 0 && s.port == 0 {
		s.mu.Unlock()
		return false, ErrInvalidNoPort
	}
	if port == 0 {
		port = s.port
	}
	s.port = port
	s.mu.Unlock()

	app := engine.New(s.opts.TLS, engine.WithLogger(s.logger), engine.WithHub(s.hub))
	s.routes.Bind(app, s.wrap)

	s.mu.Lock()
	s.app = app
	s.mu.Unlock()

	s.stop()

	ls, err := app.Listen(port)
	if err != nil {
		s.verbose("failed")
		s.logger.Error("listen failed", "port", port, "error", err)
		return false, nil
	}

	s.mu.Lock()
	s.socket = ls
	s.state = StateListening
	s.mu.Unlock()

	s.verbose("started", "addr", ls.Addr().String(), "tls", app.TLS())
	return true, nil
}

// GracefulStop closes the listen socket and returns once the port is free.
// In-flight HTTP requests get up to Options.ShutdownTimeout to finish in the
// background, so it is safe to call from a handler. Open WebSocket
// connections stay up. Calling it when not listening does nothing.
func (s *Server) GracefulStop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop()
}

// stop must be called with s.lifecycle held.
func (s *Server) stop() {
	s.mu.Lock()
	ls := s.socket
	s.socket = nil
	if ls != nil {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if ls == nil {
		return
	}

	addr := ls.Addr().String()
	s.verbose("shutting down", "addr", addr)

	if err := ls.CloseListener(); err != nil {
		s.logger.Warn("failed to close listener", "addr", addr, "error", err)
	}

	// The caller may itself be one of the in-flight requests
	s.drains.Add(1)
	go func() {
		defer s.drains.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := engine.CloseListenSocket(ctx, ls); err != nil {
			s.logger.Warn("listen socket did not close cleanly", "addr", addr, "error", err)
		}
	}()
}

// Reload drops cached static files and listens again on the stored port with
// a fresh app. It does nothing if Listen was never called.
func (s *Server) Reload() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	hasApp := s.app != nil
	s.mu.RUnlock()
	if !hasApp {
		return nil
	}

	s.verbose("reloading")
	s.cache.Purge()
	s.opts.Metrics.Reloaded()

	_, err := s.listen(0)
	return err
}

// Shutdown stops listening, waits for in-flight HTTP requests and closes
// every live session. Calling it from a handler stalls until
// Options.ShutdownTimeout; use GracefulStop there.
func (s *Server) Shutdown() {
	s.GracefulStop()
	s.drains.Wait()
	s.sessions.CloseAll()
}

// State returns the listen state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Port returns the stored port, or 0 before the first Listen.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.socket == nil {
		return ""
	}
	return s.socket.Addr().String()
}

// Handler serves requests with the current app. It answers 503 before the
// first Listen.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		app := s.app
		s.mu.RUnlock()

		if app == nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		app.ServeHTTP(w, r)
	})
}

// Broadcast sends an event to every session subscribed to topic and returns
// the number of sessions it was queued for.
func (s *Server) Broadcast(topic, event string, data any, compress bool) (int, error) {
	frame, err := s.codec.EncodeEvent(event, data)
	if err != nil {
		return 0, err
	}
	n := s.hub.Publish(topic, frame, false, compress)
	s.opts.Metrics.Broadcast("event", n)
	return n, nil
}

// BroadcastMessage sends a plain message to every session subscribed to topic.
func (s *Server) BroadcastMessage(topic string, data any, compress bool) (int, error) {
	frame, err := s.codec.EncodeMessage(data)
	if err != nil {
		return 0, err
	}
	n := s.hub.Publish(topic, frame, false, compress)
	s.opts.Metrics.Broadcast("message", n)
	return n, nil
}

// BroadcastBinary sends data unchanged as a binary frame.
func (s *Server) BroadcastBinary(topic string, data []byte, compress bool) int {
	n := s.hub.Publish(topic, data, true, compress)
	s.opts.Metrics.Broadcast("binary", n)
	return n
}

// Subscribers returns the number of sessions subscribed to topic.
func (s *Server) Subscribers(topic string) int {
	return s.hub.NumSubscribers(topic)
}
