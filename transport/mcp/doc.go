// Package mcp exposes the fastws admin API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool call becomes a request against the
// admin REST routes (see package admin) of a running server, so the same
// client works in-process behind the /mcp endpoint and from a separate
// stdio process pointed at a remote server.
//
// MCP Tools:
//   - server_status: listen state, port, session and route counts
//   - list_routes: registered routes
//   - list_sessions: live WebSocket sessions with sort, order and limit
//   - get_session, close_session: inspect or kick one session
//   - close_idle_sessions: close sessions silent for longer than max_age
//   - broadcast, broadcast_message: publish to a topic
//   - reload: purge the static cache and listen again
//
// Usage:
//
//	// HTTP mode
//	client := mcp.NewClient("http://localhost:8080/admin", version)
//	srv.Handle("post", "/mcp", client.Handler())
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
package mcp
