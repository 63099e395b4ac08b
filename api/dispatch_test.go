package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/fastws/static"
)

// MockRecorder records request observations
type MockRecorder struct {
	mu           sync.Mutex
	observations []observation
}

type observation struct {
	method string
	route  string
	status int
}

func (m *MockRecorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, observation{method: method, route: route, status: status})
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func serve(h http.HandlerFunc, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWrapSuccess(t *testing.T) {
	h := Wrap(func(req *Request, res *Response) error {
		return res.End("hi")
	})

	w := serve(h, http.MethodGet, "/hello", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "hi" {
		t.Errorf("Expected body hi, got %q", w.Body.String())
	}
}

func TestWrapPlainErrorIsHidden(t *testing.T) {
	logger, logs := newTestLogger()
	h := Wrap(func(req *Request, res *Response) error {
		return errors.New("database password leaked")
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/hello", nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if w.Body.String() != InternalErrorMessage {
		t.Errorf("Expected body %q, got %q", InternalErrorMessage, w.Body.String())
	}
	if !strings.Contains(logs.String(), "database password leaked") {
		t.Error("Expected the error to be logged server-side")
	}
}

func TestWrapStatusBearingError(t *testing.T) {
	logger, logs := newTestLogger()
	h := Wrap(func(req *Request, res *Response) error {
		return WrapError(http.StatusForbidden, "Forbidden", errors.New("token expired"))
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/secret", nil)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	if w.Body.String() != "Forbidden" {
		t.Errorf("Expected body Forbidden, got %q", w.Body.String())
	}
	if !strings.Contains(logs.String(), "token expired") {
		t.Error("Expected the originating cause to be logged")
	}
}

func TestWrapStatusBearingErrorWithoutCause(t *testing.T) {
	logger, logs := newTestLogger()
	h := Wrap(func(req *Request, res *Response) error {
		return NewError(http.StatusTeapot, "short and stout")
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/tea", nil)

	if w.Code != http.StatusTeapot || w.Body.String() != "short and stout" {
		t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
	}
	if logs.Len() != 0 {
		t.Errorf("Expected nothing logged, got %s", logs.String())
	}
}

func TestWrapPanic(t *testing.T) {
	logger, logs := newTestLogger()
	h := Wrap(func(req *Request, res *Response) error {
		panic("boom")
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/panic", nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if w.Body.String() != InternalErrorMessage {
		t.Errorf("Expected body %q, got %q", InternalErrorMessage, w.Body.String())
	}
	if !strings.Contains(logs.String(), "boom") {
		t.Error("Expected the panic to be logged")
	}
}

func TestWrapErrorAfterCommit(t *testing.T) {
	logger, _ := newTestLogger()
	h := Wrap(func(req *Request, res *Response) error {
		res.Status(http.StatusAccepted).Write([]byte("partial"))
		return errors.New("late failure")
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/stream", nil)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected the committed status 202, got %d", w.Code)
	}
	if w.Body.String() != "partial" {
		t.Errorf("Expected body partial, got %q", w.Body.String())
	}
}

func TestWrapHandlerWithoutBody(t *testing.T) {
	h := Wrap(func(req *Request, res *Response) error {
		res.Status(http.StatusNoContent)
		return nil
	})

	w := serve(h, http.MethodDelete, "/item", nil)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}

func TestWrapRecordsRequests(t *testing.T) {
	recorder := &MockRecorder{}
	logger, _ := newTestLogger()

	ok := Wrap(func(req *Request, res *Response) error {
		return res.End("ok")
	}, WithRecorder(recorder), WithRoute("/items/{id}"))
	fail := Wrap(func(req *Request, res *Response) error {
		return errors.New("nope")
	}, WithRecorder(recorder), WithLogger(logger))

	serve(ok, http.MethodGet, "/items/1", nil)
	serve(fail, http.MethodPost, "/fail", nil)

	if len(recorder.observations) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(recorder.observations))
	}
	if got := recorder.observations[0]; got != (observation{http.MethodGet, "/items/{id}", 200}) {
		t.Errorf("Unexpected observation %+v", got)
	}
	if got := recorder.observations[1]; got != (observation{http.MethodPost, "/fail", 500}) {
		t.Errorf("Unexpected observation %+v", got)
	}
}

func TestRequestCapture(t *testing.T) {
	var captured *Request
	h := Wrap(func(req *Request, res *Response) error {
		captured = req
		return res.JSON(http.StatusCreated, map[string]string{"q": req.QueryValue("q")})
	})

	req := httptest.NewRequest(http.MethodPost, "/search?q=go&page=2", nil)
	req.Header.Set("X-Custom", "value")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
	if strings.TrimSpace(w.Body.String()) != `{"q":"go"}` {
		t.Errorf("Unexpected body %q", w.Body.String())
	}

	if captured.Method != http.MethodPost || captured.Path != "/search" {
		t.Errorf("Unexpected method/path %s %s", captured.Method, captured.Path)
	}
	if captured.RawQuery != "q=go&page=2" || captured.QueryValue("page") != "2" {
		t.Errorf("Unexpected query %q", captured.RawQuery)
	}
	if captured.Get("X-Custom") != "value" {
		t.Errorf("Expected header to be captured")
	}
	// Headers are a copy
	req.Header.Set("X-Custom", "changed")
	if captured.Get("X-Custom") != "value" {
		t.Errorf("Captured headers should not follow the raw request")
	}
}

func TestBindJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	h := Wrap(func(req *Request, res *Response) error {
		var p payload
		if err := req.BindJSON(&p); err != nil {
			return err
		}
		return res.End("hello " + p.Name)
	})

	w := serve(h, http.MethodPost, "/greet", strings.NewReader(`{"name":"ada"}`))
	if w.Code != http.StatusOK || w.Body.String() != "hello ada" {
		t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
	}

	w = serve(h, http.MethodPost, "/greet", strings.NewReader(`{not json`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if w.Body.String() != "Invalid request body" {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestResponseEndTwice(t *testing.T) {
	var second error
	h := Wrap(func(req *Request, res *Response) error {
		res.End("first")
		second = res.End("second")
		return nil
	})

	w := serve(h, http.MethodGet, "/", nil)

	if !errors.Is(second, ErrResponseEnded) {
		t.Errorf("Expected ErrResponseEnded, got %v", second)
	}
	if w.Body.String() != "first" {
		t.Errorf("Expected body first, got %q", w.Body.String())
	}
}

func TestResponseError(t *testing.T) {
	h := Wrap(func(req *Request, res *Response) error {
		return res.Error(http.StatusNotFound, "Game not found")
	})

	w := serve(h, http.MethodGet, "/games/x", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"error":"Game not found"}` {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestStaticFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>home</p>"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	cache, err := static.New(dir, 10)
	if err != nil {
		t.Fatalf("static.New() error: %v", err)
	}
	logger, _ := newTestLogger()

	h := Wrap(func(req *Request, res *Response) error {
		return res.StaticFile(req.Path, cache)
	}, WithLogger(logger))

	w := serve(h, http.MethodGet, "/index.html", nil)
	if w.Code != http.StatusOK || w.Body.String() != "<p>home</p>" {
		t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Unexpected Content-Type %s", w.Header().Get("Content-Type"))
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Header.Set("If-None-Match", etag)
	cond := httptest.NewRecorder()
	h.ServeHTTP(cond, req)
	if cond.Code != http.StatusNotModified {
		t.Errorf("Expected status 304, got %d", cond.Code)
	}

	w = serve(h, http.MethodGet, "/missing.html", nil)
	if w.Code != http.StatusNotFound || w.Body.String() != "Not Found" {
		t.Errorf("Unexpected response for missing file %d %q", w.Code, w.Body.String())
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", got)
	}
	wrapped := errors.Join(errors.New("ctx"), NewError(http.StatusConflict, "conflict"))
	if got := StatusOf(wrapped); got != http.StatusConflict {
		t.Errorf("Expected 409, got %d", got)
	}
}
