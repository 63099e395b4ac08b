package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// methodAny registers a route for every HTTP method.
	methodAny = ""

	readHeaderTimeout = 15 * time.Second
	idleTimeout       = 60 * time.Second
)

// Compression selects the permessage-deflate mode of a WebSocket route.
type Compression int

const (
	CompressionDisabled Compression = iota
	CompressionShared
	CompressionDedicated
)

func (c Compression) String() string {
	switch c {
	case CompressionDisabled:
		return "disabled"
	case CompressionShared:
		return "shared"
	case CompressionDedicated:
		return "dedicated"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// WSBehavior configures a WebSocket route. Nil callbacks are skipped.
type WSBehavior struct {
	Compression      Compression
	IdleTimeout      time.Duration
	MaxPayloadLength int

	Open    func(c Conn, r *http.Request)
	Message func(c Conn, payload []byte, isBinary bool)
	Drain   func(c Conn)
	Ping    func(c Conn)
	Pong    func(c Conn)
	Close   func(c Conn, code int, reason string)
}

type registration struct {
	method  string
	path    string
	handler http.HandlerFunc
}

type wsRegistration struct {
	path     string
	behavior WSBehavior
}

// App owns routes, the topic hub and the listen sockets created from it.
type App struct {
	tlsConfig *tls.Config
	logger    *slog.Logger
	hub       *Hub

	mu       sync.Mutex
	routes   []registration
	anys     []registration
	wsRoutes []wsRegistration

	buildOnce sync.Once
	handler   http.Handler
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger used for connection and listen errors.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHub shares topic subscriptions with other apps using the same hub, so
// that a rebuilt app still reaches connections accepted by its predecessor.
func WithHub(h *Hub) Option {
	return func(a *App) {
		a.hub = h
	}
}

// New creates an App. A non-nil tlsConfig makes every listen socket serve TLS.
func New(tlsConfig *tls.Config, opts ...Option) *App {
	a := &App{
		tlsConfig: tlsConfig,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.hub == nil {
		a.hub = NewHub(a.logger)
	}
	return a
}

// TLS reports whether the app serves TLS.
func (a *App) TLS() bool {
	return a.tlsConfig != nil
}

func (a *App) Get(path string, h http.HandlerFunc)     { a.handle(http.MethodGet, path, h) }
func (a *App) Post(path string, h http.HandlerFunc)    { a.handle(http.MethodPost, path, h) }
func (a *App) Patch(path string, h http.HandlerFunc)   { a.handle(http.MethodPatch, path, h) }
func (a *App) Put(path string, h http.HandlerFunc)     { a.handle(http.MethodPut, path, h) }
func (a *App) Del(path string, h http.HandlerFunc)     { a.handle(http.MethodDelete, path, h) }
func (a *App) Head(path string, h http.HandlerFunc)    { a.handle(http.MethodHead, path, h) }
func (a *App) Trace(path string, h http.HandlerFunc)   { a.handle(http.MethodTrace, path, h) }
func (a *App) Connect(path string, h http.HandlerFunc) { a.handle(http.MethodConnect, path, h) }
func (a *App) Options(path string, h http.HandlerFunc) { a.handle(http.MethodOptions, path, h) }
func (a *App) Any(path string, h http.HandlerFunc)     { a.handle(methodAny, path, h) }

// WS registers a WebSocket route.
func (a *App) WS(path string, b WSBehavior) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wsRoutes = append(a.wsRoutes, wsRegistration{path: path, behavior: b})
}

func (a *App) handle(method, path string, h http.HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg := registration{method: method, path: path, handler: h}
	if method == methodAny {
		a.anys = append(a.anys, reg)
		return
	}
	a.routes = append(a.routes, reg)
}

// ServeHTTP implements http.Handler. The router is built on first use;
// registrations made afterwards are ignored.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.buildOnce.Do(a.build)
	a.handler.ServeHTTP(w, r)
}

func (a *App) build() {
	a.mu.Lock()
	defer a.mu.Unlock()

	router := mux.NewRouter()

	for _, ws := range a.wsRoutes {
		router.Handle(ws.path, a.upgradeHandler(ws.behavior)).MatcherFunc(isUpgrade)
	}
	for _, rt := range a.routes {
		router.HandleFunc(rt.path, rt.handler).Methods(rt.method)
	}
	for _, rt := range a.anys {
		router.HandleFunc(rt.path, rt.handler)
	}

	a.handler = middleware.RequestID(middleware.RealIP(router))
}

func isUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Publish sends payload to every connection subscribed to topic and returns
// the number of connections it was queued for.
func (a *App) Publish(topic string, payload []byte, isBinary, compress bool) int {
	return a.hub.publish(topic, payload, isBinary, compress, nil)
}

// NumSubscribers returns the number of connections subscribed to topic.
func (a *App) NumSubscribers(topic string) int {
	return a.hub.numSubscribers(topic)
}

// ListenSocket is a bound listener serving an App.
type ListenSocket struct {
	listener *onceCloseListener
	server   *http.Server

	closeOnce sync.Once
	closeErr  error
}

// onceCloseListener lets the listener be closed ahead of Shutdown, which
// closes it again.
type onceCloseListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *onceCloseListener) Close() error {
	l.once.Do(func() {
		l.err = l.Listener.Close()
	})
	return l.err
}

// Addr returns the bound address.
func (ls *ListenSocket) Addr() net.Addr {
	return ls.listener.Addr()
}

// Port returns the bound TCP port.
func (ls *ListenSocket) Port() int {
	if addr, ok := ls.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Listen binds port (0 picks a free port) and serves the app in the background.
func (a *App) Listen(port int) (*ListenSocket, error) {
	a.buildOnce.Do(a.build)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	if a.tlsConfig != nil {
		ln = tls.NewListener(ln, a.tlsConfig)
	}

	ls := &ListenSocket{
		listener: &onceCloseListener{Listener: ln},
		server: &http.Server{
			Handler:           a,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
			ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
		},
	}

	go func() {
		err := ls.server.Serve(ls.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			a.logger.Error("listen socket stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()

	return ls, nil
}

// CloseListener stops accepting connections on ls and frees the port without
// waiting for in-flight requests. Follow with CloseListenSocket to drain them.
func (ls *ListenSocket) CloseListener() error {
	if err := ls.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// CloseListenSocket stops accepting connections on ls and waits, up to the
// context deadline, for in-flight HTTP requests. Open WebSocket connections
// are left alone. Closing twice is harmless.
func CloseListenSocket(ctx context.Context, ls *ListenSocket) error {
	if ls == nil {
		return nil
	}
	if err := ls.CloseListener(); err != nil {
		return err
	}
	ls.closeOnce.Do(func() {
		ls.closeErr = ls.server.Shutdown(ctx)
	})
	return ls.closeErr
}
