package api

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wricardo/fastws/api"

// HandlerFunc handles one HTTP request.
type HandlerFunc func(req *Request, res *Response) error

// RequestRecorder receives one observation per wrapped request.
type RequestRecorder interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

type wrapConfig struct {
	logger   *slog.Logger
	recorder RequestRecorder
	tracer   trace.Tracer
	route    string
}

// WrapOption configures Wrap.
type WrapOption func(*wrapConfig)

// WithLogger sets the logger that receives handler failures.
func WithLogger(logger *slog.Logger) WrapOption {
	return func(c *wrapConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder reports every request to r.
func WithRecorder(r RequestRecorder) WrapOption {
	return func(c *wrapConfig) {
		c.recorder = r
	}
}

// WithTracer overrides the tracer from the global provider.
func WithTracer(t trace.Tracer) WrapOption {
	return func(c *wrapConfig) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithRoute labels spans and metrics with the registered route pattern
// instead of the request path.
func WithRoute(route string) WrapOption {
	return func(c *wrapConfig) {
		c.route = route
	}
}

// FromHTTP adapts a plain http.Handler.
func FromHTTP(h http.Handler) HandlerFunc {
	return func(req *Request, res *Response) error {
		h.ServeHTTP(res.Writer(), req.Raw())
		return nil
	}
}

// Wrap turns h into an http.HandlerFunc. It is the only place where handler
// errors and panics are caught and converted to responses.
func Wrap(h HandlerFunc, opts ...WrapOption) http.HandlerFunc {
	cfg := wrapConfig{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		route := cfg.route
		if route == "" {
			route = r.URL.Path
		}

		ctx, span := cfg.tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.RequestURI()),
			),
		)
		defer span.End()

		r = r.WithContext(ctx)
		req := NewRequest(r)
		res := NewResponse(w, r)

		if err := invoke(h, req, res); err != nil {
			cfg.fail(req, res, err, span)
		}
		res.finish()

		status := res.StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		if cfg.recorder != nil {
			cfg.recorder.ObserveRequest(r.Method, route, status, time.Since(start))
		}
	}
}

func invoke(h HandlerFunc, req *Request, res *Response) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: debug.Stack()}
		}
	}()
	return h(req, res)
}

func (cfg *wrapConfig) fail(req *Request, res *Response, err error, span trace.Span) {
	span.RecordError(err)

	status, message := http.StatusInternalServerError, InternalErrorMessage

	var apiErr *Error
	var pe *panicError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status != 0:
		status, message = apiErr.Status, apiErr.Message
		if apiErr.Cause != nil {
			cfg.logger.Error("handler failed",
				"method", req.Method, "path", req.Path, "status", status, "error", apiErr.Cause)
		}
	case errors.As(err, &pe):
		cfg.logger.Error("handler panicked",
			"method", req.Method, "path", req.Path, "panic", pe.value, "stack", string(pe.stack))
	default:
		cfg.logger.Error("handler failed",
			"method", req.Method, "path", req.Path, "error", err)
	}

	if res.Committed() {
		cfg.logger.Warn("response already committed, dropping error status",
			"method", req.Method, "path", req.Path, "status", status)
		return
	}

	res.Header("Content-Type", "text/plain; charset=utf-8")
	res.Status(status)
	res.End(message)
}
