package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustContext(t *testing.T, src string, opts Options) *Context {
	t.Helper()
	bc, err := Compile("handler.js", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ctx, err := NewContext(bc, opts)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
	}{
		{"function expression", `(function (url, method) { return {code: 200, body: ""}; })`, nil},
		{"arrow function", `(url, method) => ({code: 200, body: ""})`, nil},
		{"number", `42`, ErrNotAFunction},
		{"object", `({code: 200})`, ErrNotAFunction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, err := Compile("handler.js", []byte(tt.src))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Compile() error = %v", err)
				}
				if bc.Name() != "handler.js" {
					t.Errorf("Expected name handler.js, got %s", bc.Name())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCompileSyntaxError(t *testing.T) {
	if _, err := Compile("broken.js", []byte(`(function (url {`)); err == nil {
		t.Fatal("Expected syntax error")
	}
}

func TestCompileTopLevelThrow(t *testing.T) {
	if _, err := Compile("throws.js", []byte(`throw new Error("nope")`)); err == nil {
		t.Fatal("Expected evaluation error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handler.js")
	if err := os.WriteFile(path, []byte(`(function () { return {code: 204, body: ""}; })`), 0o600); err != nil {
		t.Fatal(err)
	}

	bc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if bc.Name() != path {
		t.Errorf("Expected name %s, got %s", path, bc.Name())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Error("Expected error for missing script")
	}
}

func TestInvokeTwoArguments(t *testing.T) {
	c := mustContext(t, `(function (url, method, headers) {
		return {code: 200, body: method + ' ' + url + ' ' + typeof headers};
	})`, Options{})

	res, err := c.Invoke(context.Background(), "GET", []byte("/hello"), [][2]string{{"Host", "x"}})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Code != 200 {
		t.Errorf("Expected code 200, got %d", res.Code)
	}
	if string(res.Body) != "GET /hello undefined" {
		t.Errorf("Unexpected body %q", res.Body)
	}
}

func TestInvokeHeaders(t *testing.T) {
	c := mustContext(t, `(function (url, method, headers) {
		return {code: 200, body: Object.keys(headers).join(',') + '=' + headers['Accept']};
	})`, Options{PassHeaders: true})

	res, err := c.Invoke(context.Background(), "GET", []byte("/"), [][2]string{
		{"Host", "x"},
		{"Accept", "text/plain"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(res.Body) != "Host,Accept=text/plain" {
		t.Errorf("Unexpected body %q", res.Body)
	}
}

func TestInvokeRepeatedHeaderLastWins(t *testing.T) {
	c := mustContext(t, `(function (url, method, headers) {
		return {code: 200, body: Object.keys(headers).join(',') + '=' + headers['X-Tag']};
	})`, Options{PassHeaders: true})

	res, err := c.Invoke(context.Background(), "GET", []byte("/"), [][2]string{
		{"X-Tag", "a"},
		{"Host", "x"},
		{"X-Tag", "b"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(res.Body) != "X-Tag,Host=b" {
		t.Errorf("Unexpected body %q", res.Body)
	}
}

func TestInvokeKeepsStateAcrossCalls(t *testing.T) {
	c := mustContext(t, `(function () {
		globalThis.hits = (globalThis.hits || 0) + 1;
		return {code: 200, body: String(globalThis.hits)};
	})`, Options{})

	for want := 1; want <= 3; want++ {
		res, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if string(res.Body) != string(rune('0'+want)) {
			t.Errorf("Expected body %d, got %q", want, res.Body)
		}
	}
}

func TestInvokeByteBody(t *testing.T) {
	c := mustContext(t, `(function () {
		return {code: 200, body: new Uint8Array([0, 1, 255]).buffer};
	})`, Options{})

	res, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(res.Body) != "\x00\x01\xff" {
		t.Errorf("Unexpected body %q", res.Body)
	}
}

func TestInvokeUTF8Body(t *testing.T) {
	c := mustContext(t, `(function () { return {code: 200, body: "hé"}; })`, Options{})

	res, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(res.Body) != "hé" || len(res.Body) != 3 {
		t.Errorf("Unexpected body %q", res.Body)
	}
}

func TestInvokeMalformedResults(t *testing.T) {
	tests := []struct {
		name string
		ret  string
	}{
		{"undefined", `undefined`},
		{"null", `null`},
		{"number", `42`},
		{"string", `"ok"`},
		{"missing code", `{body: "x"}`},
		{"missing body", `{code: 200}`},
		{"string code", `{code: "200", body: "x"}`},
		{"fractional code", `{code: 200.5, body: "x"}`},
		{"nan code", `{code: NaN, body: "x"}`},
		{"huge code", `{code: 1e12, body: "x"}`},
		{"number body", `{code: 200, body: 7}`},
		{"object body", `{code: 200, body: {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustContext(t, `(function () { return `+tt.ret+`; })`, Options{})

			_, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
			if !errors.Is(err, ErrMalformedHandlerResult) {
				t.Errorf("Expected ErrMalformedHandlerResult, got %v", err)
			}
		})
	}
}

func TestInvokeNumericCodes(t *testing.T) {
	c := mustContext(t, `(function (url) { return {code: Number(url.slice(1)), body: ""}; })`, Options{})

	for url, want := range map[string]int{"/404": 404, "/1e2": 100, "/-1": -1} {
		res, err := c.Invoke(context.Background(), "GET", []byte(url), nil)
		if err != nil {
			t.Fatalf("Invoke(%s) error = %v", url, err)
		}
		if res.Code != want {
			t.Errorf("Invoke(%s): expected code %d, got %d", url, want, res.Code)
		}
	}
}

func TestInvokeThrow(t *testing.T) {
	var fatal error
	c := mustContext(t, `(function () { throw new TypeError("bad input"); })`, Options{
		OnFatal: func(err error) { fatal = err },
	})

	_, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("Expected HandlerError, got %v", err)
	}
	if fatal != nil {
		t.Errorf("Thrown exception must not be fatal, got %v", fatal)
	}

	// A thrown exception leaves the context usable.
	if _, err := c.Invoke(context.Background(), "GET", []byte("/"), nil); !errors.As(err, &handlerErr) {
		t.Errorf("Expected HandlerError on second call, got %v", err)
	}
}

func TestInvokeStackOverflowIsFatal(t *testing.T) {
	calls := 0
	var fatal error
	c := mustContext(t, `(function () {
		function down(n) { return down(n + 1) + 1; }
		return {code: 200, body: String(down(0))};
	})`, Options{
		MaxCallStackSize: 64,
		OnFatal: func(err error) {
			calls++
			fatal = err
		},
	})

	_, err := c.Invoke(context.Background(), "GET", []byte("/"), nil)
	if !errors.Is(err, ErrScriptFatal) {
		t.Fatalf("Expected ErrScriptFatal, got %v", err)
	}
	if calls != 1 || !errors.Is(fatal, ErrScriptFatal) {
		t.Errorf("Expected one fatal report, got %d (%v)", calls, fatal)
	}

	if _, err := c.Invoke(context.Background(), "GET", []byte("/"), nil); !errors.Is(err, ErrScriptFatal) {
		t.Errorf("Expected fatal context to refuse calls, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected fatal channel to fire once, got %d", calls)
	}
}

func TestContextsAreIsolated(t *testing.T) {
	bc, err := Compile("counter.js", []byte(`(function () {
		globalThis.n = (globalThis.n || 0) + 1;
		return {code: 200, body: String(globalThis.n)};
	})`))
	if err != nil {
		t.Fatal(err)
	}

	a, err := NewContext(bc, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewContext(bc, Options{})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = a.Invoke(context.Background(), "GET", []byte("/"), nil)
	_, _ = a.Invoke(context.Background(), "GET", []byte("/"), nil)
	res, err := b.Invoke(context.Background(), "GET", []byte("/"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Body) != "1" {
		t.Errorf("Expected isolated counter 1, got %q", res.Body)
	}
}

func TestInvokeAfterClose(t *testing.T) {
	c := mustContext(t, `(function () { return {code: 200, body: ""}; })`, Options{})
	c.Close()

	if _, err := c.Invoke(context.Background(), "GET", []byte("/"), nil); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected ErrContextClosed, got %v", err)
	}
}
