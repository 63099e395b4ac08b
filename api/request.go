package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// maxBodySize limits how much of a request body ReadBody and BindJSON consume.
const maxBodySize = 10 << 20

// Request is the per-call view of an incoming HTTP request. Its fields are
// copied out of the raw request when the Request is created.
type Request struct {
	Method     string
	URL        *url.URL
	Path       string
	RawQuery   string
	Query      url.Values
	Header     http.Header
	Host       string
	RemoteAddr string
	RequestID  string
	Vars       map[string]string

	ctx  context.Context
	body io.ReadCloser
	raw  *http.Request
}

// NewRequest captures r.
func NewRequest(r *http.Request) *Request {
	u := *r.URL

	return &Request{
		Method:     r.Method,
		URL:        &u,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Query:      r.URL.Query(),
		Header:     r.Header.Clone(),
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		RequestID:  middleware.GetReqID(r.Context()),
		Vars:       mux.Vars(r),
		ctx:        r.Context(),
		body:       r.Body,
		raw:        r,
	}
}

// Context returns the request context. It is cancelled when the client goes
// away or the handler returns.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Get returns the first value of a request header.
func (r *Request) Get(name string) string {
	return r.Header.Get(name)
}

// Param returns a route variable.
func (r *Request) Param(name string) string {
	return r.Vars[name]
}

// QueryValue returns the first value of a query parameter.
func (r *Request) QueryValue(name string) string {
	return r.Query.Get(name)
}

// Body returns the request body reader.
func (r *Request) Body() io.Reader {
	if r.body == nil {
		return http.NoBody
	}
	return r.body
}

// ReadBody reads the whole request body.
func (r *Request) ReadBody() ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body(), maxBodySize))
}

// BindJSON decodes the body into v. Malformed bodies yield a 400 *Error.
func (r *Request) BindJSON(v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body(), maxBodySize)).Decode(v); err != nil {
		return WrapError(http.StatusBadRequest, "Invalid request body", err)
	}
	return nil
}

// Raw returns the underlying request, for handing off to plain http.Handlers.
func (r *Request) Raw() *http.Request {
	return r.raw
}
