// Package websocket provides the session layer of fastws WebSocket routes.
//
// A Session wraps one engine connection and adds named event dispatch over
// the envelope wire format:
//
//	ws.On("chat", func(e *websocket.Event) error {
//		var msg ChatMessage
//		if err := e.Decode(&msg); err != nil {
//			return err
//		}
//		return e.Session.SendEvent("chat", msg)
//	})
//
// Text frames from the client are decoded with EmitPayload. Event frames are
// routed to handlers registered for their name, plain frames to "message".
// Binary frames are raised as "binary" without decoding. The structural
// events "drain", "ping", "pong" and "disconnect" come from the engine.
//
// A handler that returns an error or panics is logged and its connection is
// closed. The failure never reaches the engine.
//
// Concurrency:
//
// The engine serializes callbacks per connection, so handlers of one session
// never run concurrently with each other. Send, Close and the subscription
// methods may be called from any goroutine. Once a session is closed every
// operation is a no-op.
//
// The Registry tracks live sessions by ID for broadcast tooling and admin
// surfaces.
package websocket
