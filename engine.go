package scriptbox

import (
	"context"
	"log/slog"
)

// Engine runs untrusted agent scripts through the full pipeline: syntax
// analysis, semantic validation, then sandboxed execution with bridged
// tool calls. Use New to create an instance with a specific configuration.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Engine interface {
	// Execute vets the script and runs it in the selected sandbox
	// backend. Scripts that fail analysis return a *ViolationError;
	// scripts rejected by validation return a *RejectedError. Script
	// runtime failures are reported in ExecutionResult.Err, not as Go
	// errors.
	Execute(ctx context.Context, script string, opts ...Option) (*ExecutionResult, error)

	// Check vets a script without executing it: full syntax analysis
	// and semantic validation against the same policy Execute would
	// apply. Useful for pre-flight feedback to the agent.
	Check(ctx context.Context, script string, opts ...Option) (*VetResult, error)

	// Available reports whether a sandbox backend satisfying the
	// fallback policy is functional on this system.
	Available() bool

	// CheckDependencies inspects the system for the selected backend's
	// requirements.
	CheckDependencies() *DependencyCheck

	// Isolation reports the isolation strength of the selected backend.
	Isolation() IsolationLevel

	// UpdateConfig dynamically updates the engine's configuration.
	// The new config is validated before being applied and takes effect
	// on the next Execute or Check call.
	UpdateConfig(cfg *Config) error

	// Cleanup releases all resources held by the engine.
	// After Cleanup is called, all subsequent calls return ErrEngineClosed.
	Cleanup(ctx context.Context) error
}

// New creates an execution Engine with the given configuration.
// The configuration is validated before the engine is created.
//
// Backend selection happens once at creation: the strongest available
// backend is chosen. If only backends weaker than a dedicated
// interpreter are available, behavior depends on FallbackPolicy:
//   - FallbackStrict (default): returns ErrNoBackend.
//   - FallbackWarn: uses the weak backend and logs a warning per run.
func New(cfg *Config) (Engine, error) {
	return newEngine(cfg)
}

// Execute is a convenience function that creates a temporary engine with
// DefaultConfig, runs the script, and cleans up. Tools must be supplied
// via WithTools and WithToolExecutor.
func Execute(ctx context.Context, script string, opts ...Option) (*ExecutionResult, error) {
	eng, err := New(DefaultConfig())
	if err != nil {
		return nil, err
	}
	defer func() { logCleanupErr(eng.Cleanup(context.WithoutCancel(ctx))) }()
	return eng.Execute(ctx, script, opts...)
}

// Check vets a script without executing it using a temporary engine
// with DefaultConfig.
func Check(ctx context.Context, script string, opts ...Option) (*VetResult, error) {
	eng, err := New(DefaultConfig())
	if err != nil {
		return nil, err
	}
	defer func() { logCleanupErr(eng.Cleanup(context.WithoutCancel(ctx))) }()
	return eng.Check(ctx, script, opts...)
}

// logCleanupErr logs cleanup errors using the default logger.
// Convenience functions (Execute, Check) don't have access to the
// engine's configured logger, so we use slog.Debug as a best-effort.
func logCleanupErr(err error) {
	if err != nil {
		slog.Debug("scriptbox: cleanup error", "err", err)
	}
}
