// Package route holds the route table of a fastws server: at most one
// handler per (path, method) pair, WebSocket option validation, and binding
// of the table onto a freshly created engine app.
package route

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wricardo/fastws/api"
	"github.com/wricardo/fastws/engine"
)

var (
	ErrInvalidOptions = errors.New("invalid websocket option")
	ErrUnknownMethod  = errors.New("unknown route method")
)

// Method is a route method. Any matches every HTTP method; WS is a
// WebSocket upgrade route.
type Method string

const (
	Get     Method = "GET"
	Post    Method = "POST"
	Patch   Method = "PATCH"
	Put     Method = "PUT"
	Delete  Method = "DELETE"
	Head    Method = "HEAD"
	Trace   Method = "TRACE"
	Connect Method = "CONNECT"
	Options Method = "OPTIONS"
	Any     Method = "ANY"
	WS      Method = "WS"
)

// ParseMethod parses a method name case-insensitively. "del" and "delete"
// both name Delete.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GET":
		return Get, nil
	case "POST":
		return Post, nil
	case "PATCH":
		return Patch, nil
	case "PUT":
		return Put, nil
	case "DEL", "DELETE":
		return Delete, nil
	case "HEAD":
		return Head, nil
	case "TRACE":
		return Trace, nil
	case "CONNECT":
		return Connect, nil
	case "OPTIONS":
		return Options, nil
	case "ANY":
		return Any, nil
	case "WS":
		return WS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// WSOptions are the user-facing options of a WebSocket route.
type WSOptions struct {
	// Compression is one of "", "disable", "disabled", "false", "shared",
	// "default" or "dedicated".
	Compression      string
	IdleTimeout      time.Duration
	MaxPayloadLength int
}

// compression maps the option to the engine mode.
func (o WSOptions) compression() (engine.Compression, error) {
	switch strings.ToLower(o.Compression) {
	case "", "disable", "disabled", "false":
		return engine.CompressionDisabled, nil
	case "shared", "default":
		return engine.CompressionShared, nil
	case "dedicated":
		return engine.CompressionDedicated, nil
	default:
		return 0, fmt.Errorf("%w: compression %q", ErrInvalidOptions, o.Compression)
	}
}

// Apply validates the options and copies them onto b.
func (o WSOptions) Apply(b engine.WSBehavior) (engine.WSBehavior, error) {
	c, err := o.compression()
	if err != nil {
		return b, err
	}
	if o.IdleTimeout < 0 || o.IdleTimeout%time.Second != 0 {
		return b, fmt.Errorf("%w: idle timeout %s is not a whole number of seconds", ErrInvalidOptions, o.IdleTimeout)
	}
	if o.MaxPayloadLength < 0 {
		return b, fmt.Errorf("%w: max payload length %d", ErrInvalidOptions, o.MaxPayloadLength)
	}

	b.Compression = c
	b.IdleTimeout = o.IdleTimeout
	b.MaxPayloadLength = o.MaxPayloadLength
	return b, nil
}

// Entry is one registered route. Exactly one of HTTP and WS is set.
type Entry struct {
	Path   string
	Method Method
	HTTP   api.HandlerFunc
	WS     *engine.WSBehavior
}

type key struct {
	path   string
	method Method
}

// Table is an ordered map of routes. Replacing a route keeps the position of
// its first registration.
type Table struct {
	mu      sync.RWMutex
	entries map[key]*Entry
	order   []key
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[key]*Entry)}
}

// Handle registers h for (method, path), replacing any previous handler.
func (t *Table) Handle(method Method, path string, h api.HandlerFunc) error {
	if method == WS {
		return fmt.Errorf("%w: use WS to register websocket routes", ErrUnknownMethod)
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return err
	}
	t.put(&Entry{Path: path, Method: method, HTTP: h})
	return nil
}

// WS validates opts and registers b as the WebSocket route for path. Invalid
// options leave the table unchanged.
func (t *Table) WS(path string, opts WSOptions, b engine.WSBehavior) error {
	b, err := opts.Apply(b)
	if err != nil {
		return err
	}
	t.put(&Entry{Path: path, Method: WS, WS: &b})
	return nil
}

func (t *Table) put(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{path: e.Path, method: e.Method}
	if _, exists := t.entries[k]; !exists {
		t.order = append(t.order, k)
	}
	t.entries[k] = e
}

// Resolve returns the entry for (method, path).
func (t *Table) Resolve(method Method, path string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[key{path: path, method: method}]
	return e, ok
}

// Entries returns the routes in registration order.
func (t *Table) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]*Entry, 0, len(t.order))
	for _, k := range t.order {
		entries = append(entries, t.entries[k])
	}
	return entries
}

// Len returns the number of routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Binder is the per-method registration surface of an engine app.
type Binder interface {
	Get(path string, h http.HandlerFunc)
	Post(path string, h http.HandlerFunc)
	Patch(path string, h http.HandlerFunc)
	Put(path string, h http.HandlerFunc)
	Del(path string, h http.HandlerFunc)
	Head(path string, h http.HandlerFunc)
	Trace(path string, h http.HandlerFunc)
	Connect(path string, h http.HandlerFunc)
	Options(path string, h http.HandlerFunc)
	Any(path string, h http.HandlerFunc)
	WS(path string, b engine.WSBehavior)
}

var _ Binder = (*engine.App)(nil)

// WrapFunc turns a route handler into an http.HandlerFunc.
type WrapFunc func(e *Entry) http.HandlerFunc

// Bind registers every entry on b in table order.
func (t *Table) Bind(b Binder, wrap WrapFunc) {
	for _, e := range t.Entries() {
		if e.Method == WS {
			b.WS(e.Path, *e.WS)
			continue
		}

		h := wrap(e)
		switch e.Method {
		case Get:
			b.Get(e.Path, h)
		case Post:
			b.Post(e.Path, h)
		case Patch:
			b.Patch(e.Path, h)
		case Put:
			b.Put(e.Path, h)
		case Delete:
			b.Del(e.Path, h)
		case Head:
			b.Head(e.Path, h)
		case Trace:
			b.Trace(e.Path, h)
		case Connect:
			b.Connect(e.Path, h)
		case Options:
			b.Options(e.Path, h)
		case Any:
			b.Any(e.Path, h)
		}
	}
}
