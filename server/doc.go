// Package server is the application-facing surface of fastws.
//
// A Server keeps a route table of HTTP handlers and WebSocket routes, and
// binds it onto a fresh engine app on every Listen:
//
//	srv, err := server.New(server.Options{Verbose: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	srv.Get("/hello", func(req *api.Request, res *api.Response) error {
//		return res.End("hi")
//	})
//
//	srv.WS("/chat", func(s *websocket.Session) error {
//		s.Subscribe("room1")
//		s.On("msg", func(e *websocket.Event) error {
//			var m ChatMessage
//			if err := e.Decode(&m); err != nil {
//				return err
//			}
//			_, err := srv.Broadcast("room1", "msg", m, true)
//			return err
//		})
//		return nil
//	}, route.WSOptions{IdleTimeout: 2 * time.Minute})
//
//	srv.Listen(3000)
//
// Failures:
//
// A handler error carrying a status (api.Error) becomes that status and
// message. Any other error or panic is logged and the client gets 500 with
// the body "Server Internal Error". WebSocket handler failures close the
// connection. No handler failure stops the server.
//
// Lifecycle:
//
// GracefulStop closes the listen socket and lets open WebSocket connections
// live on. Reload purges the static cache and listens again on the same port
// with a new app built from the current route table. Topic subscriptions
// survive a reload, so broadcasts still reach sessions opened before it.
// Signal handling is left to the caller.
package server
