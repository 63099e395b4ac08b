package admin

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wricardo/fastws/server"
	"github.com/wricardo/fastws/transport/websocket"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTopicRequired   = errors.New("topic is required")
)

// Status is a snapshot of the server.
type Status struct {
	State       string    `json:"state"`
	Port        int       `json:"port"`
	Addr        string    `json:"addr,omitempty"`
	Sessions    int       `json:"sessions"`
	Routes      int       `json:"routes"`
	CachedFiles int       `json:"cached_files"`
	Version     string    `json:"version,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// SessionInfo describes a live WebSocket session.
type SessionInfo struct {
	ID             string    `json:"id"`
	RemoteAddress  string    `json:"remote_address"`
	Path           string    `json:"path"`
	OpenedAt       time.Time `json:"opened_at"`
	LastActive     time.Time `json:"last_active"`
	Acked          bool      `json:"acked"`
	BufferedAmount int       `json:"buffered_amount"`
}

// BroadcastRequest publishes Data to Topic. An empty Event sends a plain
// message frame.
type BroadcastRequest struct {
	Topic    string          `json:"topic"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Compress bool            `json:"compress,omitempty"`
}

// BroadcastResult reports how many sessions a broadcast was queued for.
type BroadcastResult struct {
	Topic      string `json:"topic"`
	Event      string `json:"event,omitempty"`
	Recipients int    `json:"recipients"`
}

// Service is the set of operations the admin API exposes.
type Service interface {
	Status(ctx context.Context) (*Status, error)
	Routes(ctx context.Context) ([]server.RouteInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	GetSession(ctx context.Context, id string) (*SessionInfo, error)
	CloseSession(ctx context.Context, id string) error
	CloseIdle(ctx context.Context, maxAge time.Duration) (int, error)
	Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error)
	Reload(ctx context.Context) error
}

// serverService implements Service on top of a *server.Server.
type serverService struct {
	srv       *server.Server
	version   string
	startedAt time.Time
}

// NewService creates a Service backed by srv.
func NewService(srv *server.Server, version string) Service {
	return &serverService{
		srv:       srv,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *serverService) Status(ctx context.Context) (*Status, error) {
	return &Status{
		State:       s.srv.State().String(),
		Port:        s.srv.Port(),
		Addr:        s.srv.Addr(),
		Sessions:    s.srv.Sessions().Count(),
		Routes:      len(s.srv.Routes()),
		CachedFiles: s.srv.Cache().Len(),
		Version:     s.version,
		StartedAt:   s.startedAt,
	}, nil
}

func (s *serverService) Routes(ctx context.Context) ([]server.RouteInfo, error) {
	return s.srv.Routes(), nil
}

func (s *serverService) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.srv.Sessions().List()
	infos := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sessionInfo(sess))
	}
	return infos, nil
}

func (s *serverService) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	sess, err := s.srv.Sessions().Get(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return sessionInfo(sess), nil
}

func (s *serverService) CloseSession(ctx context.Context, id string) error {
	sess, err := s.srv.Sessions().Get(id)
	if err != nil {
		return ErrSessionNotFound
	}
	sess.Close()
	return nil
}

func (s *serverService) CloseIdle(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.srv.Sessions().CloseIdle(maxAge), nil
}

func (s *serverService) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	if req.Topic == "" {
		return nil, ErrTopicRequired
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	var (
		n   int
		err error
	)
	if req.Event == "" {
		n, err = s.srv.BroadcastMessage(req.Topic, data, req.Compress)
	} else {
		n, err = s.srv.Broadcast(req.Topic, req.Event, data, req.Compress)
	}
	if err != nil {
		return nil, err
	}

	return &BroadcastResult{Topic: req.Topic, Event: req.Event, Recipients: n}, nil
}

func (s *serverService) Reload(ctx context.Context) error {
	return s.srv.Reload()
}

func sessionInfo(sess *websocket.Session) *SessionInfo {
	info := &SessionInfo{
		ID:             sess.ID(),
		RemoteAddress:  sess.RemoteAddress(),
		OpenedAt:       sess.OpenedAt(),
		LastActive:     sess.LastActive(),
		Acked:          sess.Acked(),
		BufferedAmount: sess.BufferedAmount(),
	}
	if req := sess.Request(); req != nil {
		info.Path = req.Path
	}
	return info
}
