// Package admin exposes a REST control surface for a running fastws server.
//
// Routes (relative to the prefix given to Register):
//
//	GET    /status                 listen state, port, session and route counts
//	GET    /routes                 registered routes in registration order
//	GET    /sessions               live sessions (?sort=opened|active&order=asc|desc&limit=N)
//	GET    /sessions/{id}          one session
//	DELETE /sessions/{id}          close a session
//	POST   /sessions/close-idle    close sessions idle longer than {"max_age": "5m"}
//	POST   /broadcast              publish {"topic", "event", "data", "compress"}
//	POST   /reload                 purge the static cache and listen again
//
// Errors are returned as {"error": "..."} with a matching status code. The
// MCP transport in transport/mcp drives the same routes.
package admin
