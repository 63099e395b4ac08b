package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/wricardo/fastws/api"
	"github.com/wricardo/fastws/engine"
	"github.com/wricardo/fastws/envelope"
	"github.com/wricardo/fastws/route"
	"github.com/wricardo/fastws/transport/websocket"
)

// WSHandler sets up a new session, typically by registering event handlers
// and subscribing to topics. Returning an error closes the connection before
// the handshake-complete frame is sent.
type WSHandler func(s *websocket.Session) error

// WS registers a WebSocket route. Invalid options are rejected with an error
// wrapping route.ErrInvalidOptions and nothing is registered.
func (s *Server) WS(path string, fn WSHandler, opts route.WSOptions) error {
	return s.routes.WS(path, opts, engine.WSBehavior{
		Open: func(c engine.Conn, r *http.Request) {
			s.open(c, r, fn)
		},
		Message: s.message,
		Drain: func(c engine.Conn) {
			if sess := s.session(c); sess != nil {
				sess.HandleDrain()
			}
		},
		Ping: func(c engine.Conn) {
			if sess := s.session(c); sess != nil {
				sess.HandlePing()
			}
		},
		Pong: func(c engine.Conn) {
			if sess := s.session(c); sess != nil {
				sess.HandlePong()
			}
		},
		Close: s.close,
	})
}

func (s *Server) session(c engine.Conn) *websocket.Session {
	if v, ok := s.conns.Load(c); ok {
		return v.(*websocket.Session)
	}
	return nil
}

func (s *Server) open(c engine.Conn, r *http.Request, fn WSHandler) {
	sess := websocket.NewSession(c, api.NewRequest(r), s.codec, s.logger)
	s.conns.Store(c, sess)
	s.sessions.Add(sess)
	s.opts.Metrics.SessionOpened()

	s.verbose("[open]", "remote", sess.RemoteAddress(), "session", sess.ID())

	if err := runOpen(fn, sess); err != nil {
		s.logger.Error("websocket open handler failed",
			"remote", sess.RemoteAddress(), "session", sess.ID(), "error", err)
		s.opts.Metrics.WebSocketError("open")
		sess.Close()
		return
	}
	sess.Acknowledge()
}

func runOpen(fn WSHandler, sess *websocket.Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(sess)
}

func (s *Server) message(c engine.Conn, payload []byte, isBinary bool) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	s.opts.Metrics.MessageReceived(isBinary)

	if isBinary {
		if err := sess.EmitBinary(payload); err != nil {
			s.opts.Metrics.WebSocketError("handler")
		}
		return
	}

	err := sess.EmitPayload(payload)
	switch {
	case err == nil:
	case errors.Is(err, envelope.ErrInvalidPayload) && !sess.Closed():
		s.verbose("[error] invalid message payload", "remote", sess.RemoteAddress(), "session", sess.ID())
		s.opts.Metrics.WebSocketError("invalid_payload")
		sess.Close()
	default:
		// The session has logged the failure and closed itself
		s.opts.Metrics.WebSocketError("handler")
	}
}

func (s *Server) close(c engine.Conn, code int, reason string) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	sess.HandleClose(code, reason)

	s.conns.Delete(c)
	s.sessions.Remove(sess.ID())
	s.opts.Metrics.SessionClosed()
}
