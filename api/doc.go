// Package api adapts raw net/http handles into the request/response objects
// that fastws route handlers receive.
//
// The api package implements:
//   - Request: method, path, query, headers, route vars and request ID,
//     captured once when dispatch starts
//   - Response: status, headers, body, JSON helpers and static file serving
//   - Error: a failure that carries an HTTP status and a client-safe message
//   - Wrap: the single boundary where handler failures become responses
//
// Handlers:
//
// A handler has the signature
//
//	func(req *api.Request, res *api.Response) error
//
// and is turned into an http.HandlerFunc by Wrap. Handlers never need to
// recover panics or translate errors themselves.
//
// Error Handling:
//
// Wrap translates what a handler returns (or panics with):
//
//   - *Error with a status: that status, with Message as the body. The
//     wrapped cause, if any, is logged and never sent to the client.
//   - anything else: logged with full detail, and the client receives
//     500 "Server Internal Error".
//
// If the handler already started writing the response, the failure is only
// logged; the status line cannot be changed at that point.
//
// Usage:
//
//	h := api.Wrap(func(req *api.Request, res *api.Response) error {
//		var body struct{ Name string `json:"name"` }
//		if err := req.BindJSON(&body); err != nil {
//			return err // 400 Invalid request body
//		}
//		if body.Name == "" {
//			return api.NewError(http.StatusBadRequest, "name is required")
//		}
//		return res.JSON(http.StatusCreated, body)
//	}, api.WithLogger(logger))
//
// Observability:
//
// Every wrapped request runs inside an OpenTelemetry server span and, when a
// RequestRecorder is configured, reports method, route, status and duration.
package api
