package engine

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Outgoing frames queued per connection.
	sendQueueSize = 256

	// Queued bytes above which a connection counts as backpressured.
	maxBackpressure = 1 << 20
)

// Conn is one live WebSocket connection. All methods are safe to call from
// any goroutine, and after the connection has closed.
type Conn interface {
	// Send queues a frame. It reports false when the connection is closed or
	// backpressured and the frame was dropped.
	Send(payload []byte, isBinary, compress bool) bool
	// Close starts a normal closure. The Close callback runs once the read
	// pump has stopped.
	Close()
	Subscribe(topic string) bool
	Unsubscribe(topic string) bool
	IsSubscribed(topic string) bool
	// Publish sends to every other subscriber of topic.
	Publish(topic string, payload []byte, isBinary, compress bool) int
	RemoteAddress() string
	BufferedAmount() int
}

type frame struct {
	messageType int
	payload     []byte
	compress    bool
}

type wsConn struct {
	hub      *Hub
	ws       *websocket.Conn
	behavior *WSBehavior
	remote   string

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once

	// dispatchMu serializes callbacks; finished is only touched under it.
	dispatchMu sync.Mutex
	finished   bool

	buffered      atomic.Int64
	backpressured atomic.Bool
	closing       atomic.Bool

	// topics is guarded by hub.mu.
	topics map[string]bool
}

var _ Conn = (*wsConn)(nil)

func newConn(hub *Hub, ws *websocket.Conn, b *WSBehavior, r *http.Request) *wsConn {
	return &wsConn{
		hub:      hub,
		ws:       ws,
		behavior: b,
		remote:   remoteHost(r.RemoteAddr),
		send:     make(chan frame, sendQueueSize),
		done:     make(chan struct{}),
		topics:   make(map[string]bool),
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (c *wsConn) Send(payload []byte, isBinary, compress bool) bool {
	if c.closing.Load() {
		return false
	}
	if c.buffered.Load() > maxBackpressure {
		c.backpressured.Store(true)
		return false
	}

	f := frame{messageType: websocket.TextMessage, payload: payload, compress: compress}
	if isBinary {
		f.messageType = websocket.BinaryMessage
	}

	select {
	case <-c.done:
		return false
	default:
	}

	c.buffered.Add(int64(len(payload)))
	select {
	case c.send <- f:
		return true
	default:
		c.buffered.Add(-int64(len(payload)))
		c.backpressured.Store(true)
		return false
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
	})
}

func (c *wsConn) Subscribe(topic string) bool {
	if c.closing.Load() {
		return false
	}
	return c.hub.subscribe(c, topic)
}

func (c *wsConn) Unsubscribe(topic string) bool {
	return c.hub.unsubscribe(c, topic)
}

func (c *wsConn) IsSubscribed(topic string) bool {
	return c.hub.isSubscribed(c, topic)
}

func (c *wsConn) Publish(topic string, payload []byte, isBinary, compress bool) int {
	return c.hub.publish(topic, payload, isBinary, compress, c)
}

func (c *wsConn) RemoteAddress() string {
	return c.remote
}

func (c *wsConn) BufferedAmount() int {
	return int(c.buffered.Load())
}

// dispatch runs fn under the connection's dispatch lock unless the close
// callback has already run.
func (c *wsConn) dispatch(fn func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if c.finished {
		return
	}
	fn()
}

func (c *wsConn) finish(code int, reason string) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if c.finished {
		return
	}
	c.finished = true
	if c.behavior.Close != nil {
		c.behavior.Close(c, code, reason)
	}
}

func (c *wsConn) resetReadDeadline() {
	if c.behavior.IdleTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.behavior.IdleTimeout))
		return
	}
	c.ws.SetReadDeadline(time.Time{})
}

// readPump pumps messages from the WebSocket connection to the callbacks.
// It returns after the connection is gone and the Close callback has run.
func (c *wsConn) readPump() {
	code, reason := websocket.CloseNoStatusReceived, ""

	defer func() {
		c.Close()
		c.hub.removeConn(c)
		c.finish(code, reason)
	}()

	if c.behavior.MaxPayloadLength > 0 {
		c.ws.SetReadLimit(int64(c.behavior.MaxPayloadLength))
	}
	c.resetReadDeadline()

	c.ws.SetPingHandler(func(data string) error {
		c.resetReadDeadline()
		if c.behavior.Ping != nil {
			c.dispatch(func() { c.behavior.Ping(c) })
		}
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	c.ws.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		if c.behavior.Pong != nil {
			c.dispatch(func() { c.behavior.Pong(c) })
		}
		return nil
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else {
				code = websocket.CloseAbnormalClosure
			}
			if !c.closing.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "remote", c.remote, "error", err)
			}
			return
		}

		c.resetReadDeadline()
		if c.behavior.Message != nil {
			isBinary := messageType == websocket.BinaryMessage
			c.dispatch(func() { c.behavior.Message(c, payload, isBinary) })
		}
	}
}

// writePump pumps queued frames to the WebSocket connection.
func (c *wsConn) writePump() {
	var tick <-chan time.Time
	if c.behavior.IdleTimeout > 0 {
		ticker := time.NewTicker(c.behavior.IdleTimeout * 9 / 10)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				c.Close()
				return
			}

		case <-tick:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) write(f frame) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.EnableWriteCompression(f.compress && c.behavior.Compression != CompressionDisabled)
	err := c.ws.WriteMessage(f.messageType, f.payload)

	pending := c.buffered.Add(-int64(len(f.payload)))
	if err == nil && pending == 0 && c.backpressured.CompareAndSwap(true, false) && c.behavior.Drain != nil {
		c.dispatch(func() { c.behavior.Drain(c) })
	}
	return err
}

// flush writes frames queued before Close was called.
func (c *wsConn) flush() {
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (a *App) upgradeHandler(b WSBehavior) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: b.Compression != CompressionDisabled,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("websocket upgrade failed", "path", r.URL.Path, "error", err)
			return
		}

		c := newConn(a.hub, ws, &b, r)
		go c.writePump()

		if b.Open != nil {
			c.dispatch(func() { b.Open(c, r) })
		}
		c.readPump()
	}
}
