// Package sandbox provides the execution backends used to run vetted agent
// scripts. Backends share one contract but differ in isolation strength:
// a dedicated OS process, a dedicated interpreter instance, an isolated
// worker goroutine, and an in-process restricted evaluator. Detect probes
// the host and orders the backends strongest-first so callers automatically
// degrade when a stronger primitive is unavailable.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// unknownStr is the string representation for unknown enum values.
const unknownStr = "unknown"

// IsolationLevel describes how strongly a backend separates the running
// script from the host process. Higher values mean stronger isolation.
type IsolationLevel int

const (
	// IsolationNone means no isolation guarantee at all.
	IsolationNone IsolationLevel = iota

	// IsolationInline is an in-process restricted evaluator sharing the
	// host heap. Prototype freezing and global stripping still apply.
	IsolationInline

	// IsolationWorker is a dedicated worker goroutine with a fresh
	// interpreter instance and panic containment, sharing the host heap.
	IsolationWorker

	// IsolationInterpreter is a dedicated interpreter instance per
	// execution with its own object graph and interrupt-based limits.
	IsolationInterpreter

	// IsolationProcess is a fresh OS process per execution with a minimal
	// environment and kernel-enforced resource limits.
	IsolationProcess
)

// String returns the string representation of an IsolationLevel.
func (l IsolationLevel) String() string {
	switch l {
	case IsolationNone:
		return "none"
	case IsolationInline:
		return "inline"
	case IsolationWorker:
		return "worker"
	case IsolationInterpreter:
		return "interpreter"
	case IsolationProcess:
		return "process"
	default:
		return unknownStr
	}
}

// Limits bounds a single script execution. A zero Timeout is invalid:
// every execution must carry a hard wall-clock bound.
type Limits struct {
	// Timeout bounds the entire script body, including time spent waiting
	// on bridged tool calls. A breach forcibly terminates the isolation
	// unit; there is no cooperative cancellation.
	Timeout time.Duration

	// MaxMemoryBytes is the memory ceiling for the isolation unit.
	// Enforcement strength depends on the backend: the process backend
	// applies a kernel rlimit, interpreter-based backends enforce it on a
	// best-effort basis. 0 means use the default ceiling.
	MaxMemoryBytes int64

	// MaxLogBytes limits the total bytes of captured console output.
	// Further writes are dropped and the result is marked truncated.
	// 0 means use the default limit.
	MaxLogBytes int
}

const (
	// DefaultTimeout is applied when a caller does not specify one at the
	// configuration level. Per-execution code must still set an explicit
	// Timeout; Validate rejects zero.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxMemoryBytes is the default memory ceiling (256 MB).
	DefaultMaxMemoryBytes = 256 * 1024 * 1024

	// DefaultMaxLogBytes is the default captured-log limit (1 MB).
	DefaultMaxLogBytes = 1 * 1024 * 1024
)

// DefaultLimits returns the default execution limits.
func DefaultLimits() *Limits {
	return &Limits{
		Timeout:        DefaultTimeout,
		MaxMemoryBytes: DefaultMaxMemoryBytes,
		MaxLogBytes:    DefaultMaxLogBytes,
	}
}

// Validate checks the limits for errors. A zero or negative Timeout is
// rejected so that no execution can run unbounded.
func (l *Limits) Validate() error {
	if l == nil {
		return errors.New("limits must not be nil")
	}
	if l.Timeout <= 0 {
		return errors.New("Timeout: must be > 0")
	}
	if l.MaxMemoryBytes < 0 {
		return errors.New("MaxMemoryBytes: must be >= 0")
	}
	if l.MaxLogBytes < 0 {
		return errors.New("MaxLogBytes: must be >= 0")
	}
	return nil
}

// withDefaults returns a copy of l with zero optional fields replaced by
// the package defaults.
func (l Limits) withDefaults() Limits {
	if l.MaxMemoryBytes == 0 {
		l.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if l.MaxLogBytes == 0 {
		l.MaxLogBytes = DefaultMaxLogBytes
	}
	return l
}

// ToolDefinition describes one external capability a script may invoke.
// Definitions are supplied fresh per execution by the tool catalog and are
// read-only to this package.
type ToolDefinition struct {
	// Name is the qualified tool name in "namespace:method" form.
	Name string

	// Description is a human-readable summary of what the tool does.
	Description string

	// InputSchema is the JSON-schema-shaped parameter description.
	InputSchema map[string]any
}

// Namespace returns the part of Name before the colon, or the whole name
// if it is unqualified.
func (d ToolDefinition) Namespace() string {
	if idx := strings.IndexByte(d.Name, ':'); idx >= 0 {
		return d.Name[:idx]
	}
	return d.Name
}

// Method returns the part of Name after the colon, or "" if the name is
// unqualified.
func (d ToolDefinition) Method() string {
	if idx := strings.IndexByte(d.Name, ':'); idx >= 0 {
		return d.Name[idx+1:]
	}
	return ""
}

// ToolInvoker performs the real tool call outside the sandbox boundary.
// It is supplied by the caller; this package treats it as a black box.
// Implementations must be safe for concurrent use.
type ToolInvoker func(ctx context.Context, name string, params map[string]any) (any, error)

// Job is one script execution request handed to a backend. The backend
// must create a fresh isolation unit for every Job; reusing interpreter or
// process state across jobs is forbidden.
type Job struct {
	// ID correlates log lines and bridge traffic for this execution.
	ID string

	// Script is the untrusted source text. It has already passed syntax
	// analysis and semantic validation before it reaches a backend.
	Script string

	// Tools lists the capabilities exposed to the script as
	// namespace.method callables.
	Tools []ToolDefinition

	// Invoke dispatches a bridged tool call to the real executor.
	Invoke ToolInvoker

	// Limits bounds the execution.
	Limits Limits
}

// validate checks a Job before execution.
func (j *Job) validate() error {
	if j == nil {
		return errors.New("job must not be nil")
	}
	if err := j.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if len(j.Tools) > 0 && j.Invoke == nil {
		return errors.New("job declares tools but has no invoker")
	}
	return nil
}

// Result is the outcome of running a Job. A non-empty Err means the script
// itself failed (runtime error, timeout, memory breach); infrastructure
// failures are reported as Go errors from Execute instead.
type Result struct {
	// Value is the script's return value, exported to plain Go values.
	// Values that crossed a process boundary have JSON semantics
	// (numbers arrive as float64).
	Value any

	// Err describes a script-scoped failure, empty on success.
	Err string

	// Logs holds one entry per console write, in call order.
	Logs []string

	// TruncatedLogs indicates console output hit MaxLogBytes.
	TruncatedLogs bool

	// Duration is the wall-clock time of the execution.
	Duration time.Duration
}

// DependencyCheck holds the result of a backend dependency inspection.
type DependencyCheck struct {
	// Errors lists critical problems that prevent this backend from running.
	Errors []string

	// Warnings lists non-critical issues that may weaken isolation.
	Warnings []string
}

// OK returns true if no critical dependency errors were found.
func (d *DependencyCheck) OK() bool {
	return len(d.Errors) == 0
}

// Backend executes vetted scripts inside one kind of isolation unit.
// Implementations must be safe for concurrent use; every Execute call runs
// in its own fresh isolation unit.
type Backend interface {
	// Name returns a short identifier, e.g. "process" or "interpreter".
	Name() string

	// Isolation reports the isolation strength this backend provides.
	Isolation() IsolationLevel

	// Available reports whether the backend is functional on this host.
	Available() bool

	// CheckDependencies inspects the host for this backend's requirements.
	CheckDependencies() *DependencyCheck

	// Execute runs the job and returns its result. Script failures are
	// carried in Result.Err; a Go error means the backend itself could
	// not run the job.
	Execute(ctx context.Context, job *Job) (*Result, error)

	// Cleanup releases backend-held resources.
	Cleanup(ctx context.Context) error
}

// Detect returns all backends ordered by isolation strength, strongest
// first. Callers pick the first Available one.
func Detect() []Backend {
	return []Backend{
		NewProcess(),
		NewInterpreter(),
		NewWorker(),
		NewInline(),
	}
}

// Select returns the strongest available backend. The inline evaluator is
// always available, so Select never returns nil.
func Select() Backend {
	for _, b := range Detect() {
		if b.Available() {
			return b
		}
	}
	return NewInline()
}

// timeoutError formats the script-scoped error for a wall-clock breach.
func timeoutError(limit time.Duration) string {
	return fmt.Sprintf("execution timed out after %s", limit)
}

// memoryError formats the script-scoped error for a memory-ceiling breach.
func memoryError(limit int64) string {
	return fmt.Sprintf("execution exceeded memory limit of %d bytes", limit)
}
