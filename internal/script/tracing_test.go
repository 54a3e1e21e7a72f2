package script

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func tracedContext(t *testing.T, src string) (*Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return mustContext(t, src, Options{PassHeaders: true, Tracer: tp.Tracer("test")}), sr
}

func onlySpan(t *testing.T, sr *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	return spans[0]
}

func TestTracingContinuesIncomingTrace(t *testing.T) {
	c, sr := tracedContext(t, `(function (url) { return {code: 500, body: "down"}; })`)

	_, err := c.Invoke(context.Background(), "GET", []byte("/status?verbose=1"), [][2]string{
		{"Host", "x"},
		{"Traceparent", traceparent},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	span := onlySpan(t, sr)
	if span.Name() != "GET /status" {
		t.Errorf("Expected span name 'GET /status', got %q", span.Name())
	}
	parent := span.Parent()
	if !parent.IsValid() || !parent.IsRemote() {
		t.Fatalf("Expected remote parent, got %+v", parent)
	}
	if got := parent.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected trace id from traceparent, got %s", got)
	}
	if span.SpanContext().TraceID() != parent.TraceID() {
		t.Error("Expected span to join the incoming trace")
	}
	if span.Status().Code != codes.Error {
		t.Errorf("Expected error status for code 500, got %v", span.Status().Code)
	}
}

func TestTracingStatus(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want codes.Code
	}{
		{"ok", `(function () { return {code: 200, body: ""}; })`, codes.Ok},
		{"redirect", `(function () { return {code: 302, body: ""}; })`, codes.Ok},
		{"client error", `(function () { return {code: 404, body: ""}; })`, codes.Error},
		{"malformed", `(function () { return 1; })`, codes.Error},
		{"thrown", `(function () { throw new Error("x"); })`, codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sr := tracedContext(t, tt.src)
			_, _ = c.Invoke(context.Background(), "GET", []byte("/"), nil)

			span := onlySpan(t, sr)
			if span.Status().Code != tt.want {
				t.Errorf("Expected status %v, got %v", tt.want, span.Status().Code)
			}
			if span.Parent().IsValid() {
				t.Error("Expected a root span without traceparent")
			}
		})
	}
}

func TestHeaderCarrier(t *testing.T) {
	hc := headerCarrier{{"TraceParent", "a"}, {"traceparent", "b"}, {"Host", "h"}}

	if got := hc.Get("traceparent"); got != "a" {
		t.Errorf("Expected first match 'a', got %q", got)
	}
	if got := hc.Get("missing"); got != "" {
		t.Errorf("Expected empty value, got %q", got)
	}
	hc.Set("traceparent", "c")
	if got := hc.Get("traceparent"); got != "a" {
		t.Errorf("Expected Set to leave headers unchanged, got %q", got)
	}
	if keys := hc.Keys(); len(keys) != 3 {
		t.Errorf("Expected 3 keys, got %v", keys)
	}
}
