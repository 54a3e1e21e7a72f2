// Package script loads the handler function once and runs it per request in
// connection-owned goja runtimes.
package script

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// Bytecode is the compiled handler source. It is immutable after Compile and
// shared read-only by every connection; each connection evaluates it in its
// own runtime.
type Bytecode struct {
	name    string
	program *goja.Program
}

// Compile compiles src, which must evaluate to a function, e.g.
//
//	(function handler(url, method, headers) { return {code: 200, body: "ok"} })
func Compile(name string, src []byte) (*Bytecode, error) {
	program, err := goja.Compile(name, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	bc := &Bytecode{name: name, program: program}

	// Evaluate once so a source that is not a function fails at startup
	// rather than on the first connection.
	if _, _, err := bc.load(goja.New()); err != nil {
		return nil, err
	}
	return bc, nil
}

// Load reads and compiles the handler script at path.
func Load(path string) (*Bytecode, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler script: %w", err)
	}
	return Compile(path, src)
}

// Name returns the name the script was compiled under.
func (b *Bytecode) Name() string {
	return b.name
}

func (b *Bytecode) load(vm *goja.Runtime) (goja.Value, goja.Callable, error) {
	v, err := vm.RunProgram(b.program)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate %s: %w", b.name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotAFunction, b.name)
	}
	return v, fn, nil
}
