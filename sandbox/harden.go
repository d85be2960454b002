package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// maxCallStackSize bounds interpreter recursion so a runaway recursive
// script raises a RangeError instead of exhausting the host stack.
const maxCallStackSize = 2048

// hardenSnippet runs inside a fresh runtime before any untrusted code.
// It removes dynamic code evaluation and freezes the intrinsic prototypes
// so scripts cannot smuggle behavior into shared objects. The snippet
// itself is sloppy at program level so top-level this is the global
// object; the strict IIFE receives it as a parameter.
const hardenSnippet = `
(function (g) {
	'use strict';
	var thrower = function () { throw new TypeError('dynamic code evaluation is disabled'); };
	var fnProto = Function.prototype;
	try { fnProto.constructor = thrower; } catch (e) {}
	g.eval = undefined;
	g.Function = thrower;
	var protos = [Object.prototype, Array.prototype, fnProto, String.prototype,
		Number.prototype, Boolean.prototype, RegExp.prototype, Date.prototype,
		Error.prototype, Promise.prototype];
	for (var i = 0; i < protos.length; i++) {
		if (protos[i]) { Object.freeze(protos[i]); }
	}
	Object.freeze(Object);
	Object.freeze(Array);
	Object.freeze(String);
})(this);
`

// newRuntime builds a hardened interpreter instance. Every execution gets
// its own instance; hardened runtimes are never reused across jobs.
func newRuntime() (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	if _, err := vm.RunString(hardenSnippet); err != nil {
		return nil, fmt.Errorf("harden runtime: %w", err)
	}
	return vm, nil
}

// consoleSink receives stringified console lines from a hardened runtime.
type consoleSink interface {
	add(line string)
}

// logSink captures console output up to a byte budget. Writes past the
// budget are dropped and the sink is marked truncated. It is safe for
// concurrent use: an abandoned worker may still write while the caller
// reads the snapshot.
type logSink struct {
	mu        sync.Mutex
	lines     []string
	bytes     int
	limit     int
	truncated bool
}

func newLogSink(limit int) *logSink {
	if limit <= 0 {
		limit = DefaultMaxLogBytes
	}
	return &logSink{limit: limit}
}

func (s *logSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.truncated {
		return
	}
	if s.bytes+len(line) > s.limit {
		s.truncated = true
		return
	}
	s.bytes += len(line)
	s.lines = append(s.lines, line)
}

// snapshot returns a copy of the captured lines and the truncation flag.
func (s *logSink) snapshot() (lines []string, truncated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...), s.truncated
}

// bindConsole installs a console object whose log/info/warn/error methods
// feed the sink. Arguments are stringified and joined with single spaces,
// matching what agents expect from a browser-like console.
func bindConsole(vm *goja.Runtime, sink consoleSink) error {
	write := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatConsoleArg(arg))
		}
		sink.add(strings.Join(parts, " "))
		return goja.Undefined()
	}
	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, write); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func formatConsoleArg(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	exported := v.Export()
	switch exported.(type) {
	case map[string]any, []any:
		return fmt.Sprintf("%v", exported)
	default:
		return v.String()
	}
}

// bindTools exposes each tool as namespace.method(params). Methods accept
// a single plain-object argument and block until the bridged call returns.
// An invoker error becomes a catchable script exception.
func bindTools(ctx context.Context, vm *goja.Runtime, tools []ToolDefinition, invoke ToolInvoker) error {
	namespaces := make(map[string]*goja.Object)
	for _, tool := range tools {
		ns, method := tool.Namespace(), tool.Method()
		if ns == "" || method == "" {
			continue
		}
		obj, ok := namespaces[ns]
		if !ok {
			obj = vm.NewObject()
			namespaces[ns] = obj
			if err := vm.Set(ns, obj); err != nil {
				return err
			}
		}
		name := tool.Name
		fn := func(params map[string]any) (any, error) {
			return invoke(ctx, name, params)
		}
		if err := obj.Set(method, fn); err != nil {
			return err
		}
	}
	return nil
}

// boundInvoke wraps a tool invoker so a stuck executor cannot hold the
// interpreter past its deadline. The invoker runs on its own goroutine
// and is abandoned when ctx expires; the script then sees a catchable
// error while the interrupt watchers stop the run.
func boundInvoke(invoke ToolInvoker) ToolInvoker {
	if invoke == nil {
		return nil
	}
	return func(ctx context.Context, name string, params map[string]any) (any, error) {
		type outcome struct {
			value any
			err   error
		}
		out := make(chan outcome, 1)
		go func() {
			value, err := invoke(ctx, name, params)
			out <- outcome{value: value, err: err}
		}()
		select {
		case o := <-out:
			return o.value, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WrapScript wraps the script body in an async IIFE so top-level return
// and top-level await both work. Every backend runs this exact program,
// and the syntax analyzer parses it, so the two stages always see the
// same code. The wrapper adds one line above the script body.
func WrapScript(script string) string {
	return "(async function () {\n" + script + "\n})()"
}

// WrapLineOffset is the number of lines WrapScript prepends.
const WrapLineOffset = 1

// runScript compiles and runs a wrapped script on a hardened runtime and
// settles its promise into a plain value or a script-scoped error string.
func runScript(vm *goja.Runtime, script string) (any, string) {
	prog, err := goja.Compile("script.js", WrapScript(script), false)
	if err != nil {
		return nil, fmt.Sprintf("compile error: %v", err)
	}
	value, err := vm.RunProgram(prog)
	if err != nil {
		return nil, scriptError(err)
	}
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value.Export(), ""
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result().Export(), ""
	case goja.PromiseStateRejected:
		return nil, rejectionError(promise.Result())
	default:
		return nil, "script did not settle: a pending promise was left behind"
	}
}

// scriptError maps an interpreter error to a script-scoped message.
// Interrupt values set by the limit watchers become limit messages.
func scriptError(err error) string {
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		switch v := interrupted.Value().(type) {
		case limitBreach:
			return v.message
		default:
			return fmt.Sprintf("execution interrupted: %v", v)
		}
	}
	if exc, ok := err.(*goja.Exception); ok {
		return exc.Error()
	}
	return err.Error()
}

func rejectionError(v goja.Value) string {
	if v == nil {
		return "script rejected"
	}
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return v.String()
		}
	}
	return v.String()
}

// limitBreach is the interrupt payload used by the timeout and memory
// watchers so scriptError can tell them apart from user interrupts.
type limitBreach struct {
	message string
}

// interruptAfter arms a one-shot timer that interrupts the runtime when
// the wall clock expires. The returned stop func must be called once the
// script finishes.
func interruptAfter(vm *goja.Runtime, d time.Duration) (stop func()) {
	timer := time.AfterFunc(d, func() {
		vm.Interrupt(limitBreach{message: timeoutError(d)})
	})
	return func() { timer.Stop() }
}

// interruptOnDone interrupts the runtime when ctx is canceled. The
// returned stop func releases the watcher goroutine.
func interruptOnDone(ctx context.Context, vm *goja.Runtime) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(limitBreach{message: fmt.Sprintf("execution canceled: %v", ctx.Err())})
		case <-done:
		}
	}()
	return func() { close(done) }
}
