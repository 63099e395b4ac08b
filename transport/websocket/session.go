package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/fastws/api"
	"github.com/wricardo/fastws/engine"
	"github.com/wricardo/fastws/envelope"
)

// Structural event names raised by the session itself.
const (
	EventMessage    = "message"
	EventBinary     = "binary"
	EventDrain      = "drain"
	EventPing       = "ping"
	EventPong       = "pong"
	EventDisconnect = "disconnect"
)

// reserved holds the event names only the session itself may raise.
var reserved = map[string]bool{
	EventMessage:    true,
	EventBinary:     true,
	EventDrain:      true,
	EventPing:       true,
	EventPong:       true,
	EventDisconnect: true,
}

var (
	ErrSessionClosed = errors.New("session closed")
	ErrFrameDropped  = errors.New("frame dropped by backpressure")
)

// Event is one dispatched event.
type Event struct {
	Name string
	// Data is the serialized payload, or the raw bytes of a binary frame.
	Data []byte

	// Code and Reason are set on disconnect.
	Code   int
	Reason string

	Session *Session
}

// Decode unmarshals the event payload with the session's codec.
func (e *Event) Decode(v any) error {
	return e.Session.codec.Unmarshal(&envelope.Message{Kind: envelope.KindEvent, Event: e.Name, Data: e.Data}, v)
}

// HandlerFunc handles an event.
type HandlerFunc func(e *Event) error

// Session wraps one live connection with named event dispatch and the
// message envelope.
type Session struct {
	id       string
	remote   string
	req      *api.Request
	codec    *envelope.Codec
	logger   *slog.Logger
	openedAt time.Time

	mu         sync.Mutex
	conn       engine.Conn
	handlers   map[string][]HandlerFunc
	acked      bool
	closed     bool
	lastActive time.Time
}

// NewSession wraps conn. req is the captured upgrade request.
func NewSession(conn engine.Conn, req *api.Request, codec *envelope.Codec, logger *slog.Logger) *Session {
	if codec == nil {
		codec = envelope.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Session{
		id:         uuid.NewString(),
		remote:     conn.RemoteAddress(),
		req:        req,
		codec:      codec,
		logger:     logger,
		openedAt:   now,
		conn:       conn,
		handlers:   make(map[string][]HandlerFunc),
		lastActive: now,
	}
}

// ID returns the session's unique ID.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddress returns the client address captured at open.
func (s *Session) RemoteAddress() string {
	return s.remote
}

// Request returns the captured upgrade request.
func (s *Session) Request() *api.Request {
	return s.req
}

func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// LastActive returns when the client last sent a frame.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Acked reports whether the handshake-complete frame was sent.
func (s *Session) Acked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// Closed reports whether Close was called or the connection went away.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// On adds fn to the handlers of event. Handlers run in registration order.
func (s *Session) On(event string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers == nil {
		return
	}
	s.handlers[event] = append(s.handlers[event], fn)
}

// Emit dispatches event locally. Events without handlers are dropped.
func (s *Session) Emit(event string, data []byte) error {
	return s.dispatch(&Event{Name: event, Data: data, Session: s})
}

// EmitPayload decodes a text frame from the client and dispatches it. Event
// frames go to their named handlers, plain frames to "message". An error
// wrapping envelope.ErrInvalidPayload means the frame was malformed or named
// one of the structural events.
func (s *Session) EmitPayload(raw []byte) error {
	if s.Closed() {
		return nil
	}
	s.touch()

	msg, err := envelope.Decode(raw)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case envelope.KindEvent:
		if reserved[msg.Event] {
			return fmt.Errorf("%w: reserved event %q", envelope.ErrInvalidPayload, msg.Event)
		}
		return s.Emit(msg.Event, msg.Data)
	case envelope.KindMessage:
		return s.Emit(EventMessage, msg.Data)
	default:
		return nil
	}
}

// EmitBinary dispatches a binary frame without decoding it.
func (s *Session) EmitBinary(b []byte) error {
	s.touch()
	return s.Emit(EventBinary, b)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// dispatch runs the handlers of e. Once the session is closed only
// "disconnect" is dispatched.
func (s *Session) dispatch(e *Event) error {
	s.mu.Lock()
	if s.closed && e.Name != EventDisconnect {
		s.mu.Unlock()
		return nil
	}
	handlers := append([]HandlerFunc(nil), s.handlers[e.Name]...)
	s.mu.Unlock()

	for _, fn := range handlers {
		if err := s.invoke(fn, e); err != nil {
			s.logger.Error("websocket handler failed",
				"session", s.id, "remote", s.remote, "event", e.Name, "error", err)
			s.Close()
			return err
		}
	}
	return nil
}

func (s *Session) invoke(fn HandlerFunc, e *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(e)
}

// HandleDrain raises "drain" once the send queue has emptied after
// backpressure.
func (s *Session) HandleDrain() error {
	return s.Emit(EventDrain, nil)
}

func (s *Session) HandlePing() error {
	return s.Emit(EventPing, nil)
}

func (s *Session) HandlePong() error {
	return s.Emit(EventPong, nil)
}

// HandleClose raises "disconnect" once and detaches the session from its
// connection. Later calls do nothing.
func (s *Session) HandleClose(code int, reason string) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.dispatch(&Event{Name: EventDisconnect, Code: code, Reason: reason, Session: s})

	s.mu.Lock()
	s.conn = nil
	s.handlers = nil
	s.mu.Unlock()
}

// live returns the connection, or nil once the session is closed.
func (s *Session) live() engine.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn
}

// Acknowledge sends the handshake-complete frame.
func (s *Session) Acknowledge() bool {
	conn := s.live()
	if conn == nil {
		return false
	}
	if !conn.Send(envelope.Handshake(), false, false) {
		return false
	}
	s.mu.Lock()
	s.acked = true
	s.mu.Unlock()
	return true
}

// Send queues a raw frame.
func (s *Session) Send(data []byte, isBinary, compress bool) bool {
	conn := s.live()
	if conn == nil {
		return false
	}
	return conn.Send(data, isBinary, compress)
}

// SendEvent sends a named event with v as payload.
func (s *Session) SendEvent(event string, v any) error {
	frame, err := s.codec.EncodeEvent(event, v)
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

// SendMessage sends v as a plain message.
func (s *Session) SendMessage(v any) error {
	frame, err := s.codec.EncodeMessage(v)
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

func (s *Session) sendFrame(frame []byte) error {
	conn := s.live()
	if conn == nil {
		return ErrSessionClosed
	}
	if !conn.Send(frame, false, true) {
		return ErrFrameDropped
	}
	return nil
}

// SendBinary sends b as a binary frame.
func (s *Session) SendBinary(b []byte) bool {
	return s.Send(b, true, true)
}

// Close starts closing the connection. "disconnect" fires once the engine
// reports the connection gone.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) Subscribe(topic string) bool {
	conn := s.live()
	if conn == nil {
		return false
	}
	return conn.Subscribe(topic)
}

func (s *Session) Unsubscribe(topic string) bool {
	conn := s.live()
	if conn == nil {
		return false
	}
	return conn.Unsubscribe(topic)
}

func (s *Session) IsSubscribed(topic string) bool {
	conn := s.live()
	if conn == nil {
		return false
	}
	return conn.IsSubscribed(topic)
}

// Publish sends an event to every other subscriber of topic.
func (s *Session) Publish(topic, event string, v any) (int, error) {
	frame, err := s.codec.EncodeEvent(event, v)
	if err != nil {
		return 0, err
	}
	conn := s.live()
	if conn == nil {
		return 0, ErrSessionClosed
	}
	return conn.Publish(topic, frame, false, true), nil
}

// BufferedAmount returns the bytes queued for the client.
func (s *Session) BufferedAmount() int {
	conn := s.live()
	if conn == nil {
		return 0
	}
	return conn.BufferedAmount()
}
