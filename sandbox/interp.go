package sandbox

import (
	"context"
	"runtime"
	"time"

	"github.com/dop251/goja"
)

// memoryPollInterval is how often the interpreter backend samples heap
// growth against the job's memory ceiling.
const memoryPollInterval = 50 * time.Millisecond

// Interpreter runs each job on a dedicated, hardened interpreter instance
// with interrupt-based wall-clock and best-effort memory enforcement. It
// shares the host address space, so the memory ceiling is advisory rather
// than kernel-enforced.
type Interpreter struct{}

// NewInterpreter returns the dedicated-interpreter backend.
func NewInterpreter() *Interpreter { return &Interpreter{} }

func (b *Interpreter) Name() string { return "interpreter" }

func (b *Interpreter) Isolation() IsolationLevel { return IsolationInterpreter }

// Available always reports true: the interpreter is pure Go.
func (b *Interpreter) Available() bool { return true }

func (b *Interpreter) CheckDependencies() *DependencyCheck {
	return &DependencyCheck{
		Warnings: []string{
			"interpreter backend shares the host address space; memory limits are best effort",
		},
	}
}

func (b *Interpreter) Cleanup(ctx context.Context) error { return nil }

// Execute runs the job on a fresh interpreter instance. The instance is
// discarded afterwards regardless of outcome.
func (b *Interpreter) Execute(ctx context.Context, job *Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	limits := job.Limits.withDefaults()

	vm, err := newRuntime()
	if err != nil {
		return nil, err
	}
	sink := newLogSink(limits.MaxLogBytes)
	if err := bindConsole(vm, sink); err != nil {
		return nil, err
	}
	toolCtx, cancelTools := context.WithTimeout(ctx, limits.Timeout)
	defer cancelTools()
	if err := bindTools(toolCtx, vm, job.Tools, boundInvoke(job.Invoke)); err != nil {
		return nil, err
	}

	stopTimer := interruptAfter(vm, limits.Timeout)
	defer stopTimer()
	stopCtx := interruptOnDone(ctx, vm)
	defer stopCtx()
	stopMem := watchMemory(vm, limits.MaxMemoryBytes)
	defer stopMem()

	start := time.Now()
	value, scriptErr := runScript(vm, job.Script)
	lines, truncated := sink.snapshot()
	return &Result{
		Value:         value,
		Err:           scriptErr,
		Logs:          lines,
		TruncatedLogs: truncated,
		Duration:      time.Since(start),
	}, nil
}

// watchMemory interrupts the runtime if host heap growth since the start
// of the execution exceeds the ceiling. Sampling the whole heap is coarse,
// but it is the strongest signal available without a process boundary.
func watchMemory(vm *goja.Runtime, limit int64) (stop func()) {
	if limit <= 0 {
		return func() {}
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	baseline := int64(stats.HeapAlloc)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				runtime.ReadMemStats(&stats)
				if int64(stats.HeapAlloc)-baseline > limit {
					vm.Interrupt(limitBreach{message: memoryError(limit)})
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
