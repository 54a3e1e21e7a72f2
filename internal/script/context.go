package script

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracerName is used when Options.Tracer is nil.
const DefaultTracerName = "scriptserve"

// Options configures a per-connection Context.
type Options struct {
	// PassHeaders selects the three-argument call (url, method, headers);
	// otherwise the handler is called with (url, method). The headers object
	// holds one property per name; for repeated names the last value wins.
	PassHeaders bool
	// MaxCallStackSize limits script recursion depth; 0 keeps the runtime default.
	MaxCallStackSize int
	Tracer           trace.Tracer
	// Propagator extracts the parent span from request headers (default: TraceContext)
	Propagator propagation.TextMapPropagator
	// OnFatal is the fatal error channel. It is called once, when the
	// runtime fails in a way that leaves the context unusable.
	OnFatal func(error)
}

// Result is a validated handler return value.
type Result struct {
	Code int
	Body []byte
}

// Context is one connection's execution context: a private runtime holding
// the loaded handler function. It is not safe for concurrent use.
type Context struct {
	vm      *goja.Runtime
	handler goja.Callable
	opts    Options
	fatal   error
}

// NewContext loads bc into a fresh runtime.
func NewContext(bc *Bytecode, opts Options) (*Context, error) {
	vm := goja.New()
	if opts.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(opts.MaxCallStackSize)
	}
	_, fn, err := bc.load(vm)
	if err != nil {
		return nil, err
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(DefaultTracerName)
	}
	if opts.Propagator == nil {
		opts.Propagator = propagation.TraceContext{}
	}
	return &Context{vm: vm, handler: fn, opts: opts}, nil
}

// Invoke calls the handler for one request and validates its result.
func (c *Context) Invoke(ctx context.Context, method string, url []byte, headers [][2]string) (res Result, err error) {
	if c.vm == nil {
		return Result{}, ErrContextClosed
	}
	if c.fatal != nil {
		return Result{}, c.fatal
	}

	// Continue the caller's trace when the request carries one
	parentCtx := c.opts.Propagator.Extract(ctx, headerCarrier(headers))
	_, span := c.opts.Tracer.Start(parentCtx, method+" "+requestPath(url),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", string(url)),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			err = c.recovered(r)
		}
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Code >= 400:
			span.SetAttributes(attribute.Int("http.status_code", res.Code))
			span.SetStatus(codes.Error, "HTTP error")
		default:
			span.SetAttributes(attribute.Int("http.status_code", res.Code))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	args := make([]goja.Value, 0, 3)
	args = append(args, c.vm.ToValue(string(url)), c.vm.ToValue(method))
	if c.opts.PassHeaders {
		obj, setErr := c.headersObject(headers)
		if setErr != nil {
			return Result{}, c.fail(fmt.Errorf("%w: %v", ErrScriptFatal, setErr))
		}
		args = append(args, obj)
	}

	v, callErr := c.handler(goja.Undefined(), args...)
	if callErr != nil {
		return Result{}, c.classify(callErr)
	}
	return extractResult(v)
}

// Close releases the runtime. Further calls to Invoke fail.
func (c *Context) Close() {
	c.vm = nil
	c.handler = nil
}

func (c *Context) headersObject(headers [][2]string) (*goja.Object, error) {
	obj := c.vm.NewObject()
	for _, h := range headers {
		if err := obj.Set(h[0], h[1]); err != nil {
			return nil, fmt.Errorf("set header %q: %w", h[0], err)
		}
	}
	return obj, nil
}

func (c *Context) classify(err error) error {
	var overflow *goja.StackOverflowError
	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	switch {
	case errors.As(err, &overflow), errors.As(err, &interrupted):
		return c.fail(fmt.Errorf("%w: %v", ErrScriptFatal, err))
	case errors.As(err, &exception):
		return &HandlerError{Err: err}
	default:
		return c.fail(fmt.Errorf("%w: %v", ErrScriptFatal, err))
	}
}

func (c *Context) recovered(r any) error {
	if ex, ok := r.(*goja.Exception); ok {
		return &HandlerError{Err: ex}
	}
	return c.fail(fmt.Errorf("%w: %v", ErrScriptFatal, r))
}

func (c *Context) fail(err error) error {
	if c.fatal == nil {
		c.fatal = err
		if c.opts.OnFatal != nil {
			c.opts.OnFatal(err)
		}
	}
	return err
}

func extractResult(v goja.Value) (Result, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Result{}, &MalformedResultError{Reason: "handler returned no object"}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return Result{}, &MalformedResultError{Reason: fmt.Sprintf("handler returned %s, not an object", v.String())}
	}

	code, err := extractCode(obj.Get("code"))
	if err != nil {
		return Result{}, err
	}
	body, err := extractBody(obj.Get("body"))
	if err != nil {
		return Result{}, err
	}
	return Result{Code: code, Body: body}, nil
}

func extractCode(v goja.Value) (int, error) {
	if v == nil || goja.IsUndefined(v) {
		return 0, &MalformedResultError{Reason: "missing code"}
	}
	switch n := v.Export().(type) {
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, &MalformedResultError{Reason: "code out of range"}
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, &MalformedResultError{Reason: "code is not an integer"}
		}
		return int(n), nil
	}
	return 0, &MalformedResultError{Reason: "code is not a number"}
}

// extractBody copies the body out of the runtime; strings are taken as
// their UTF-8 encoding, byte containers verbatim.
func extractBody(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, &MalformedResultError{Reason: "missing body"}
	}
	switch b := v.Export().(type) {
	case string:
		return []byte(b), nil
	case goja.ArrayBuffer:
		return append([]byte(nil), b.Bytes()...), nil
	case []byte:
		return append([]byte(nil), b...), nil
	}
	return nil, &MalformedResultError{Reason: "body is not a string or byte buffer"}
}
