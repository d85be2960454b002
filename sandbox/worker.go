package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Worker runs each job on a dedicated goroutine with a fresh interpreter
// instance and panic containment. It is weaker than Interpreter only in
// that limit breaches abandon the goroutine instead of unwinding it
// promptly, but a stuck worker cannot block the caller.
type Worker struct{}

// NewWorker returns the isolated-worker backend.
func NewWorker() *Worker { return &Worker{} }

func (b *Worker) Name() string { return "worker" }

func (b *Worker) Isolation() IsolationLevel { return IsolationWorker }

func (b *Worker) Available() bool { return true }

func (b *Worker) CheckDependencies() *DependencyCheck {
	return &DependencyCheck{
		Warnings: []string{
			"worker backend shares the host address space; memory limits are best effort",
		},
	}
}

func (b *Worker) Cleanup(ctx context.Context) error { return nil }

// Execute runs the job on its own goroutine and waits for either the
// result or the deadline. On a deadline the goroutine is interrupted and
// abandoned; the caller gets a timeout result immediately.
func (b *Worker) Execute(ctx context.Context, job *Job) (*Result, error) {
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
	stopMem := watchMemory(vm, limits.MaxMemoryBytes)
	defer stopMem()

	type outcome struct {
		value any
		errs  string
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{errs: fmt.Sprintf("script panicked the worker: %v", r)}
			}
		}()
		value, scriptErr := runScript(vm, job.Script)
		done <- outcome{value: value, errs: scriptErr}
	}()

	timer := time.NewTimer(limits.Timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		lines, truncated := sink.snapshot()
		return &Result{
			Value:         out.value,
			Err:           out.errs,
			Logs:          lines,
			TruncatedLogs: truncated,
			Duration:      time.Since(start),
		}, nil
	case <-timer.C:
		vm.Interrupt(limitBreach{message: timeoutError(limits.Timeout)})
		lines, truncated := sink.snapshot()
		return &Result{
			Err:           timeoutError(limits.Timeout),
			Logs:          lines,
			TruncatedLogs: truncated,
			Duration:      time.Since(start),
		}, nil
	case <-ctx.Done():
		vm.Interrupt(limitBreach{message: fmt.Sprintf("execution canceled: %v", ctx.Err())})
		lines, truncated := sink.snapshot()
		return &Result{
			Err:           fmt.Sprintf("execution canceled: %v", ctx.Err()),
			Logs:          lines,
			TruncatedLogs: truncated,
			Duration:      time.Since(start),
		}, nil
	}
}
