// Package engine is the socket layer underneath fastws.
//
// The engine package implements:
//   - App creation, with or without TLS
//   - Per-method route registration (Get, Post, ..., Any, WS)
//   - Listen sockets that can be closed independently of live connections
//   - WebSocket connections with per-connection callbacks
//   - Topic subscriptions and publish fan-out
//
// Architecture:
//
// An App collects registrations and builds a gorilla/mux router the first
// time it serves a request or listens. WebSocket routes are matched before
// plain HTTP routes for upgrade requests; Any routes are matched last so a
// method-specific route always wins over a wildcard on the same path.
//
// Each WebSocket connection runs a read pump on the upgrading request's
// goroutine and a write pump on its own goroutine. Every callback for one
// connection (open, message, drain, ping, pong, close) runs under that
// connection's dispatch lock, so callbacks never overlap for a single
// connection. Different connections are fully independent.
//
// Usage:
//
//	app := engine.New(nil, engine.WithLogger(logger))
//	app.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
//		w.Write([]byte("hi"))
//	})
//	app.WS("/chat", engine.WSBehavior{
//		Message: func(c engine.Conn, payload []byte, isBinary bool) {
//			c.Send(payload, isBinary, true)
//		},
//	})
//
//	ls, err := app.Listen(8080)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.CloseListenSocket(context.Background(), ls)
//
// Backpressure:
//
// Outgoing frames are queued per connection. When the queue is full, or the
// queued bytes exceed the backpressure limit, Send reports false and the
// connection is marked as backpressured; the Drain callback fires once the
// queue has been flushed. Publish closes subscribers whose queue is full.
package engine
