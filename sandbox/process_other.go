//go:build !unix

package sandbox

import (
	"context"
	"errors"
)

// Process is unavailable without unix process-group and rlimit support.
// Detect falls back to the dedicated interpreter backend on these hosts.
type Process struct{}

// NewProcess returns the isolated-process backend stub.
func NewProcess() *Process { return &Process{} }

func (b *Process) Name() string { return "process" }

func (b *Process) Isolation() IsolationLevel { return IsolationProcess }

func (b *Process) Available() bool { return false }

func (b *Process) CheckDependencies() *DependencyCheck {
	return &DependencyCheck{
		Errors: []string{"process backend requires a unix host"},
	}
}

func (b *Process) Cleanup(ctx context.Context) error { return nil }

func (b *Process) Execute(ctx context.Context, job *Job) (*Result, error) {
	return nil, errors.New("process backend is not supported on this platform")
}
