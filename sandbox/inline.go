package sandbox

import (
	"context"
	"time"
)

// Inline runs the job directly on the caller's goroutine with a hardened
// interpreter instance. It is the weakest tier and exists only as a last
// resort: the restricted globals and frozen prototypes still apply, but
// there is no containment beyond interpreter interrupts.
type Inline struct{}

// NewInline returns the in-process restricted evaluator backend.
func NewInline() *Inline { return &Inline{} }

func (b *Inline) Name() string { return "inline" }

func (b *Inline) Isolation() IsolationLevel { return IsolationInline }

func (b *Inline) Available() bool { return true }

func (b *Inline) CheckDependencies() *DependencyCheck {
	return &DependencyCheck{
		Warnings: []string{
			"inline backend runs on the caller goroutine with no containment beyond interpreter interrupts",
		},
	}
}

func (b *Inline) Cleanup(ctx context.Context) error { return nil }

func (b *Inline) Execute(ctx context.Context, job *Job) (*Result, error) {
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
