package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wricardo/fastws/static"
)

// statusWriter remembers the status written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Response is the per-call view of an HTTP response.
type Response struct {
	w      *statusWriter
	r      *http.Request
	status int
	ended  bool
}

// NewResponse wraps w. r is used for conditional and range handling when
// serving files.
func NewResponse(w http.ResponseWriter, r *http.Request) *Response {
	return &Response{
		w:      &statusWriter{ResponseWriter: w},
		r:      r,
		status: http.StatusOK,
	}
}

// Status sets the status code sent with the first body write.
func (res *Response) Status(code int) *Response {
	res.status = code
	return res
}

// Header sets a response header.
func (res *Response) Header(key, value string) *Response {
	res.w.Header().Set(key, value)
	return res
}

// Write writes part of the body, sending the status line first if needed.
func (res *Response) Write(p []byte) (int, error) {
	if res.ended {
		return 0, ErrResponseEnded
	}
	if !res.w.wrote {
		res.w.WriteHeader(res.status)
	}
	return res.w.Write(p)
}

// End writes body and finishes the response.
func (res *Response) End(body string) error {
	if res.ended {
		return ErrResponseEnded
	}
	if _, err := io.WriteString(res, body); err != nil {
		return err
	}
	res.ended = true
	return nil
}

// JSON writes v as a JSON body with the given status.
func (res *Response) JSON(status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	res.Header("Content-Type", "application/json")
	res.Status(status)
	if _, err := res.Write(append(data, '\n')); err != nil {
		return err
	}
	res.ended = true
	return nil
}

// Error writes {"error": message} with the given status.
func (res *Response) Error(status int, message string) error {
	return res.JSON(status, map[string]string{"error": message})
}

// StaticFile serves name from cache. Missing files yield a 404 *Error.
func (res *Response) StaticFile(name string, cache *static.Cache) error {
	if cache == nil {
		return errors.New("static cache not configured")
	}

	f, err := cache.Get(name)
	if err != nil {
		if errors.Is(err, static.ErrNotFound) {
			return WrapError(http.StatusNotFound, "Not Found", err)
		}
		return fmt.Errorf("failed to load static file %q: %w", name, err)
	}

	if f.ContentType != "" {
		res.Header("Content-Type", f.ContentType)
	}
	if f.ETag != "" {
		res.Header("ETag", f.ETag)
	}
	http.ServeContent(res.w, res.r, f.Name, f.ModTime, bytes.NewReader(f.Content))
	res.ended = true
	return nil
}

// Writer returns the underlying writer, for handing off to plain http.Handlers.
func (res *Response) Writer() http.ResponseWriter {
	return res.w
}

// StatusCode returns the status that was sent, or the pending status.
func (res *Response) StatusCode() int {
	if res.w.wrote {
		return res.w.status
	}
	return res.status
}

// Ended reports whether the response has been finished.
func (res *Response) Ended() bool {
	return res.ended
}

// Committed reports whether the status line has been sent.
func (res *Response) Committed() bool {
	return res.w.wrote
}

// finish completes a response the handler left open.
func (res *Response) finish() {
	if res.ended {
		return
	}
	if !res.w.wrote {
		res.w.WriteHeader(res.status)
	}
	res.ended = true
}
